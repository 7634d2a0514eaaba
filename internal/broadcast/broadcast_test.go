// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package broadcast_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/broadcast"
)

type broadcastSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&broadcastSuite{})

func waitEvent(c *gc.C, events <-chan broadcast.Event) broadcast.Event {
	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		c.Fatalf("timed out waiting for event")
	}
	return broadcast.Event{}
}

func (s *broadcastSuite) TestLocalSubscriberSeesChange(c *gc.C) {
	emitter := broadcast.NewEmitter("")
	events := make(chan broadcast.Event, 4)
	unsubscribe := emitter.Subscribe(func(event broadcast.Event) {
		events <- event
	})
	defer unsubscribe()

	updated := object.Stored{"id": "b1", "class_id": "book", "title": "x"}
	previous := object.Stored{"id": "b1", "class_id": "book", "title": "w"}
	emitter.EmitChange("book", updated, previous, "conn-9")

	event := waitEvent(c, events)
	c.Check(event.Kind, gc.Equals, broadcast.KindChange)
	c.Check(event.ClassID, gc.Equals, "book")
	c.Check(event.ID, gc.Equals, "b1")
	c.Check(event.New["title"], gc.Equals, "x")
	c.Check(event.Old["title"], gc.Equals, "w")
	c.Check(event.OriginConnectionID, gc.Equals, "conn-9")
}

func (s *broadcastSuite) TestLocalSubscriberSeesDelete(c *gc.C) {
	emitter := broadcast.NewEmitter("")
	events := make(chan broadcast.Event, 4)
	defer emitter.Subscribe(func(event broadcast.Event) {
		events <- event
	})()

	previous := object.Stored{"id": "b1", "class_id": "book"}
	emitter.EmitDelete("book", "b1", previous, "")

	event := waitEvent(c, events)
	c.Check(event.Kind, gc.Equals, broadcast.KindDelete)
	c.Check(event.ID, gc.Equals, "b1")
	c.Check(event.New, gc.IsNil)
	c.Check(event.Old["id"], gc.Equals, "b1")
}

func (s *broadcastSuite) TestUnsubscribeStopsDelivery(c *gc.C) {
	emitter := broadcast.NewEmitter("")
	events := make(chan broadcast.Event, 4)
	unsubscribe := emitter.Subscribe(func(event broadcast.Event) {
		events <- event
	})

	emitter.EmitChange("book", object.Stored{"id": "b1"}, nil, "")
	waitEvent(c, events)

	unsubscribe()
	emitter.EmitChange("book", object.Stored{"id": "b2"}, nil, "")
	select {
	case event := <-events:
		c.Fatalf("unexpected delivery after unsubscribe: %#v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *broadcastSuite) TestForwardsToHub(c *gc.C) {
	type received struct {
		path  string
		event broadcast.Event
	}
	posts := make(chan received, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		c.Check(err, jc.ErrorIsNil)
		var event broadcast.Event
		c.Check(json.Unmarshal(body, &event), jc.ErrorIsNil)
		c.Check(req.Method, gc.Equals, http.MethodPost)
		c.Check(req.Header.Get("Content-Type"), gc.Equals, "application/json")
		posts <- received{path: req.URL.Path, event: event}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	emitter := broadcast.NewEmitter(srv.URL)
	defer emitter.Close()
	emitter.EmitChange("book", object.Stored{"id": "b1", "title": "x"}, nil, "conn-1")

	select {
	case got := <-posts:
		c.Check(got.path, gc.Equals, "/broadcast")
		c.Check(got.event.Kind, gc.Equals, broadcast.KindChange)
		c.Check(got.event.ClassID, gc.Equals, "book")
		c.Check(got.event.ID, gc.Equals, "b1")
		c.Check(got.event.New["title"], gc.Equals, "x")
		c.Check(got.event.OriginConnectionID, gc.Equals, "conn-1")
	case <-time.After(5 * time.Second):
		c.Fatalf("hub never received the forwarded event")
	}
}

// TestForwardPreservesEmitOrder emits a long run of sequential events
// and checks they arrive at the hub exactly in emit order.
func (s *broadcastSuite) TestForwardPreservesEmitOrder(c *gc.C) {
	const total = 200
	var (
		mu    sync.Mutex
		order []string
	)
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var event broadcast.Event
		c.Check(json.NewDecoder(req.Body).Decode(&event), jc.ErrorIsNil)
		mu.Lock()
		order = append(order, event.ID)
		if len(order) == total {
			close(done)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	emitter := broadcast.NewEmitter(srv.URL)
	defer emitter.Close()

	want := make([]string, total)
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("b%03d", i)
		want[i] = id
		emitter.EmitChange("book", object.Stored{"id": id}, nil, "")
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		mu.Lock()
		received := len(order)
		mu.Unlock()
		c.Fatalf("hub received %d of %d events", received, total)
	}
	mu.Lock()
	defer mu.Unlock()
	c.Check(order, jc.DeepEquals, want)
}

func (s *broadcastSuite) TestHubOutageNeverFailsTheWrite(c *gc.C) {
	// Nothing listens on this port; forwarding must be swallowed.
	emitter := broadcast.NewEmitter("http://127.0.0.1:1")
	defer emitter.Close()
	events := make(chan broadcast.Event, 4)
	defer emitter.Subscribe(func(event broadcast.Event) {
		events <- event
	})()

	emitter.EmitDelete("book", "b1", nil, "")

	// Local delivery is unaffected by the dead hub.
	event := waitEvent(c, events)
	c.Check(event.Kind, gc.Equals, broadcast.KindDelete)
}
