// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hub is the stateless websocket fan-out plane. Engines POST
// committed change events to /broadcast; clients hold a websocket,
// subscribe by class or by (class, id) and receive change frames.
// Nothing is persisted: a disconnected client misses the events of its
// downtime and recovers by refetching over REST.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"
	"github.com/rs/xid"
	"gopkg.in/tomb.v2"

	"github.com/omc-ai/elementStore-sub001/internal/broadcast"
)

var logger = loggo.GetLogger("elementstore.hub")

var (
	_ worker.Worker = (*Hub)(nil)
	_ worker.Worker = (*Client)(nil)
)

const (
	handshakeTimeout = 5 * time.Second
	idleTimeout      = 60 * time.Second
	pingPeriod       = 30 * time.Second
	writeWait        = 10 * time.Second

	// outboundQueueSize bounds the per-connection send queue. A full
	// queue drops the oldest frame and marks the connection degraded;
	// maxDegraded degradations force-close it.
	outboundQueueSize = 64
	maxDegraded       = 3
)

// Client operations.
const (
	OpSubscribe       = "subscribe"
	OpSubscribeObject = "subscribe_object"
	OpUnsubscribe     = "unsubscribe"
	OpPing            = "ping"
)

// Server frame types.
const (
	TypeHello   = "hello"
	TypePong    = "pong"
	TypeChanges = "changes"
)

// ClientFrame is a frame received from a subscriber.
type ClientFrame struct {
	Op      string `json:"op"`
	ClassID string `json:"class_id,omitempty"`
	ID      string `json:"id,omitempty"`
}

// ServerFrame is a frame pushed to a subscriber.
type ServerFrame struct {
	Type         string                   `json:"type"`
	ConnectionID string                   `json:"connection_id,omitempty"`
	Items        []map[string]interface{} `json:"items,omitempty"`
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: handshakeTimeout,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// Hub fans inbound broadcast events out to subscribed websockets.
type Hub struct {
	tomb  tomb.Tomb
	clock clock.Clock

	mu    sync.Mutex
	conns map[string]*connection
}

// New returns a running hub. Kill and Wait stop it.
func New(clk clock.Clock) *Hub {
	h := &Hub{
		clock: clk,
		conns: make(map[string]*connection),
	}
	h.tomb.Go(func() error {
		<-h.tomb.Dying()
		h.mu.Lock()
		conns := make([]*connection, 0, len(h.conns))
		for _, conn := range h.conns {
			conns = append(conns, conn)
		}
		h.mu.Unlock()
		for _, conn := range conns {
			conn.tomb.Kill(nil)
		}
		for _, conn := range conns {
			conn.tomb.Wait()
		}
		return nil
	})
	return h
}

// Kill implements worker.Worker.
func (h *Hub) Kill() {
	h.tomb.Kill(nil)
}

// Wait implements worker.Worker.
func (h *Hub) Wait() error {
	return h.tomb.Wait()
}

// Router returns the hub's HTTP surface: GET /health, POST /broadcast
// and the websocket endpoint at /ws.
func (h *Hub) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.serveHealth).Methods("GET")
	router.HandleFunc("/broadcast", h.serveBroadcast).Methods("POST")
	router.HandleFunc("/ws", h.serveWS)
	return router
}

// Connections reports the number of live websockets.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) serveHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"service":     "elementhub",
		"connections": h.Connections(),
	})
}

func (h *Hub) serveBroadcast(w http.ResponseWriter, req *http.Request) {
	var event broadcast.Event
	if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
		http.Error(w, `{"error":"malformed event"}`, http.StatusBadRequest)
		return
	}
	if event.ClassID == "" || event.ID == "" {
		http.Error(w, `{"error":"event requires class_id and id"}`, http.StatusBadRequest)
		return
	}
	h.Dispatch(event)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Hub) serveWS(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Errorf("problem initiating websocket: %v", err)
		return
	}
	select {
	case <-h.tomb.Dying():
		socket.Close()
		return
	default:
	}

	conn := &connection{
		hub:     h,
		id:      xid.New().String(),
		socket:  socket,
		classes: set.NewStrings(),
		objects: set.NewStrings(),
		out:     make(chan ServerFrame, outboundQueueSize),
	}
	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()
	logger.Debugf("connection %s opened from %s", conn.id, req.RemoteAddr)

	conn.out <- ServerFrame{Type: TypeHello, ConnectionID: conn.id}
	conn.tomb.Go(conn.writeLoop)
	conn.tomb.Go(conn.readLoop)
	go func() {
		conn.tomb.Wait()
		socket.Close()
		h.mu.Lock()
		delete(h.conns, conn.id)
		h.mu.Unlock()
		logger.Debugf("connection %s closed", conn.id)
	}()
}

// Dispatch pushes one event to every subscriber of its class or of the
// (class, id) pair, skipping the originating connection. Enqueueing
// never blocks on a slow consumer.
func (h *Hub) Dispatch(event broadcast.Event) {
	frame := ServerFrame{Type: TypeChanges, Items: []map[string]interface{}{itemOf(event)}}

	h.mu.Lock()
	targets := make([]*connection, 0, len(h.conns))
	for _, conn := range h.conns {
		if conn.id == event.OriginConnectionID {
			continue
		}
		if conn.subscribed(event.ClassID, event.ID) {
			targets = append(targets, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range targets {
		conn.enqueue(frame)
	}
}

// itemOf flattens an event into one changes item: the new record's
// fields plus _old, or an {id, class_id, _deleted} marker on delete.
func itemOf(event broadcast.Event) map[string]interface{} {
	item := make(map[string]interface{})
	if event.Kind == broadcast.KindDelete {
		item["id"] = event.ID
		item["class_id"] = event.ClassID
		item["_deleted"] = true
	} else {
		for key, value := range event.New {
			item[key] = value
		}
		item["id"] = event.ID
		item["class_id"] = event.ClassID
	}
	if event.Old != nil {
		item["_old"] = event.Old
	}
	return item
}

type connection struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	tomb   tomb.Tomb

	mu       sync.Mutex
	classes  set.Strings
	objects  set.Strings
	degraded int

	out chan ServerFrame
}

func objectKey(classID, id string) string {
	return classID + "\x00" + id
}

func (c *connection) subscribed(classID, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classes.Contains(classID) || c.objects.Contains(objectKey(classID, id))
}

// enqueue appends a frame to the outbound queue. When the queue is
// full the oldest frame is dropped and the connection marked degraded;
// repeated degradation closes it.
func (c *connection) enqueue(frame ServerFrame) {
	for {
		select {
		case c.out <- frame:
			return
		default:
		}
		select {
		case <-c.out:
		default:
		}
		c.mu.Lock()
		c.degraded++
		degraded := c.degraded
		c.mu.Unlock()
		logger.Warningf("connection %s is slow, dropped a frame (%d/%d)", c.id, degraded, maxDegraded)
		if degraded >= maxDegraded {
			c.tomb.Kill(nil)
			return
		}
	}
}

// readLoop consumes client frames until the socket errors or the idle
// deadline passes. Pongs and inbound frames both refresh the deadline,
// so a client missing two ping intervals is timed out.
func (c *connection) readLoop() error {
	defer c.tomb.Kill(nil)
	c.socket.SetReadDeadline(time.Now().Add(idleTimeout))
	c.socket.SetPongHandler(func(string) error {
		c.socket.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})
	for {
		var frame ClientFrame
		if err := c.socket.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("connection %s read error: %v", c.id, err)
			}
			return nil
		}
		c.socket.SetReadDeadline(time.Now().Add(idleTimeout))
		c.handle(frame)
	}
}

func (c *connection) handle(frame ClientFrame) {
	switch frame.Op {
	case OpSubscribe:
		if frame.ClassID == "" {
			return
		}
		c.mu.Lock()
		c.classes.Add(frame.ClassID)
		c.mu.Unlock()
	case OpSubscribeObject:
		if frame.ClassID == "" || frame.ID == "" {
			return
		}
		c.mu.Lock()
		c.objects.Add(objectKey(frame.ClassID, frame.ID))
		c.mu.Unlock()
	case OpUnsubscribe:
		c.mu.Lock()
		if frame.ID != "" {
			c.objects.Remove(objectKey(frame.ClassID, frame.ID))
		} else {
			c.classes.Remove(frame.ClassID)
		}
		c.mu.Unlock()
	case OpPing:
		c.enqueue(ServerFrame{Type: TypePong})
	default:
		logger.Debugf("connection %s sent unknown op %q", c.id, frame.Op)
	}
}

// writeLoop drains the outbound queue and keeps the socket alive with
// pings. On shutdown it sends a close frame and flushes nothing more.
func (c *connection) writeLoop() error {
	defer c.tomb.Kill(nil)
	timer := c.hub.clock.NewTimer(pingPeriod)
	defer timer.Stop()
	for {
		select {
		case <-c.tomb.Dying():
			deadline := time.Now().Add(writeWait)
			c.socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			// Closing the socket unblocks the read loop.
			c.socket.Close()
			return nil
		case <-timer.Chan():
			deadline := time.Now().Add(writeWait)
			if err := c.socket.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				logger.Debugf("failed to write ping to %s: %v", c.id, err)
				return nil
			}
			timer.Reset(pingPeriod)
		case frame := <-c.out:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(frame); err != nil {
				logger.Debugf("write to %s failed: %v", c.id, err)
				return nil
			}
		}
	}
}
