// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package broadcast carries change notifications out of the engine.
// Events are published on an in-process hub for local subscribers and
// forwarded to the websocket hub over HTTP in commit order. Delivery
// is fire and forget: a hub outage never fails the originating write.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"

	"github.com/omc-ai/elementStore-sub001/core/object"
)

var logger = loggo.GetLogger("elementstore.broadcast")

// Topic is the local pubsub topic every change event is published on.
const Topic = "elementstore.changes"

const forwardTimeout = 5 * time.Second

// Event kinds.
const (
	KindChange = "change"
	KindDelete = "delete"
)

// Event describes one committed mutation.
type Event struct {
	Kind               string        `json:"kind"`
	ClassID            string        `json:"class_id"`
	ID                 string        `json:"id"`
	New                object.Stored `json:"new,omitempty"`
	Old                object.Stored `json:"old,omitempty"`
	OriginConnectionID string        `json:"origin_connection_id,omitempty"`
}

// Emitter publishes events after commits.
type Emitter struct {
	hub         *pubsub.SimpleHub
	hubURL      string
	client      *http.Client
	stopForward func()
}

// NewEmitter returns an emitter forwarding to the hub at hubURL.
// An empty hubURL disables forwarding; local subscribers still see
// every event.
func NewEmitter(hubURL string) *Emitter {
	e := &Emitter{
		hub:    pubsub.NewSimpleHub(nil),
		hubURL: hubURL,
		client: &http.Client{Timeout: forwardTimeout},
	}
	if hubURL != "" {
		// The forwarder is itself a subscriber: pubsub delivers to
		// each subscriber serially, so events reach the hub in the
		// order they were emitted.
		e.stopForward = e.hub.Subscribe(Topic, func(_ string, data interface{}) {
			if event, ok := data.(Event); ok {
				e.forward(event)
			}
		})
	}
	return e
}

// Close stops forwarding to the hub. Local subscribers keep working.
func (e *Emitter) Close() {
	if e.stopForward != nil {
		e.stopForward()
	}
}

// EmitChange publishes a create or update commit.
func (e *Emitter) EmitChange(classID string, updated, previous object.Stored, origin string) {
	e.emit(Event{
		Kind:               KindChange,
		ClassID:            classID,
		ID:                 updated.ID(),
		New:                updated,
		Old:                previous,
		OriginConnectionID: origin,
	})
}

// EmitDelete publishes a delete commit.
func (e *Emitter) EmitDelete(classID, id string, previous object.Stored, origin string) {
	e.emit(Event{
		Kind:               KindDelete,
		ClassID:            classID,
		ID:                 id,
		Old:                previous,
		OriginConnectionID: origin,
	})
}

func (e *Emitter) emit(event Event) {
	e.hub.Publish(Topic, event)
}

// forward posts the event to the hub. Failures are logged and
// swallowed; subscribers recover by refetching over REST.
func (e *Emitter) forward(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		logger.Errorf("marshalling change event: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.hubURL+"/broadcast", bytes.NewReader(body))
	if err != nil {
		logger.Errorf("building broadcast request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		logger.Warningf("hub unreachable, dropping %s event for %s/%s: %v", event.Kind, event.ClassID, event.ID, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		logger.Warningf("hub rejected %s event for %s/%s: status %d", event.Kind, event.ClassID, event.ID, resp.StatusCode)
	}
}

// Subscribe registers a local observer of every emitted event and
// returns its unsubscriber.
func (e *Emitter) Subscribe(fn func(Event)) func() {
	return e.hub.Subscribe(Topic, func(_ string, data interface{}) {
		if event, ok := data.(Event); ok {
			fn(event)
		}
	})
}
