// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"gopkg.in/tomb.v2"
)

const (
	reconnectDelay    = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// ClientConfig configures a hub client.
type ClientConfig struct {
	// URL is the hub websocket endpoint, ws://host:port/ws.
	URL   string
	Clock clock.Clock
	// OnFrame receives every server frame, including hello and pong.
	OnFrame func(ServerFrame)
}

// Validate checks the configuration.
func (c ClientConfig) Validate() error {
	if c.URL == "" {
		return errors.NotValidf("empty URL")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Client maintains a websocket to the hub, reconnecting with
// exponential backoff and re-subscribing to every tracked key after
// each reconnect.
type Client struct {
	config ClientConfig
	tomb   tomb.Tomb

	mu      sync.Mutex
	socket  *websocket.Conn
	connID  string
	classes set.Strings
	objects set.Strings
}

// NewClient returns a running client. Kill and Wait stop it.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	c := &Client{
		config:  config,
		classes: set.NewStrings(),
		objects: set.NewStrings(),
	}
	c.tomb.Go(c.loop)
	return c, nil
}

// Kill implements worker.Worker.
func (c *Client) Kill() {
	c.tomb.Kill(nil)
	c.mu.Lock()
	if c.socket != nil {
		c.socket.Close()
	}
	c.mu.Unlock()
}

// Wait implements worker.Worker.
func (c *Client) Wait() error {
	return c.tomb.Wait()
}

// ConnectionID returns the id assigned by the hub's hello frame, empty
// while disconnected.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Subscribe tracks a class subscription. It survives reconnects.
func (c *Client) Subscribe(classID string) error {
	c.mu.Lock()
	c.classes.Add(classID)
	c.mu.Unlock()
	return c.send(ClientFrame{Op: OpSubscribe, ClassID: classID})
}

// SubscribeObject tracks a single-object subscription.
func (c *Client) SubscribeObject(classID, id string) error {
	c.mu.Lock()
	c.objects.Add(objectKey(classID, id))
	c.mu.Unlock()
	return c.send(ClientFrame{Op: OpSubscribeObject, ClassID: classID, ID: id})
}

// Unsubscribe drops a class or object subscription.
func (c *Client) Unsubscribe(classID, id string) error {
	c.mu.Lock()
	if id != "" {
		c.objects.Remove(objectKey(classID, id))
	} else {
		c.classes.Remove(classID)
	}
	c.mu.Unlock()
	return c.send(ClientFrame{Op: OpUnsubscribe, ClassID: classID, ID: id})
}

// Ping asks the hub for a pong frame.
func (c *Client) Ping() error {
	return c.send(ClientFrame{Op: OpPing})
}

func (c *Client) send(frame ClientFrame) error {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket == nil {
		// Not connected; the subscription is replayed on reconnect.
		return nil
	}
	socket.SetWriteDeadline(time.Now().Add(writeWait))
	return errors.Trace(socket.WriteJSON(frame))
}

// loop dials, reads until failure, and dials again. The backoff resets
// after every successful connection.
func (c *Client) loop() error {
	for {
		select {
		case <-c.tomb.Dying():
			return tomb.ErrDying
		default:
		}
		socket, err := c.dial()
		if err != nil {
			// Only a dying tomb stops the unlimited retry loop.
			return tomb.ErrDying
		}
		c.session(socket)
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	var socket *websocket.Conn
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
			conn, _, err := dialer.Dial(c.config.URL, nil)
			if err != nil {
				return errors.Trace(err)
			}
			socket = conn
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("hub dial attempt %d failed: %v", attempt, err)
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       reconnectDelay,
		MaxDelay:    reconnectMaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.config.Clock,
		Stop:        c.tomb.Dying(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return socket, nil
}

// session consumes frames from a live socket until it drops. The first
// frame is the hub's hello carrying the connection id.
func (c *Client) session(socket *websocket.Conn) {
	defer socket.Close()

	c.mu.Lock()
	c.socket = socket
	classes := c.classes.SortedValues()
	objects := c.objects.SortedValues()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.socket = nil
		c.connID = ""
		c.mu.Unlock()
	}()

	for _, classID := range classes {
		if err := c.send(ClientFrame{Op: OpSubscribe, ClassID: classID}); err != nil {
			logger.Warningf("re-subscribing to %q: %v", classID, err)
			return
		}
	}
	for _, key := range objects {
		classID, id := splitObjectKey(key)
		if err := c.send(ClientFrame{Op: OpSubscribeObject, ClassID: classID, ID: id}); err != nil {
			logger.Warningf("re-subscribing to %q/%q: %v", classID, id, err)
			return
		}
	}

	for {
		var frame ServerFrame
		if err := socket.ReadJSON(&frame); err != nil {
			select {
			case <-c.tomb.Dying():
			default:
				logger.Debugf("hub connection dropped: %v", err)
			}
			return
		}
		if frame.Type == TypeHello {
			c.mu.Lock()
			c.connID = frame.ConnectionID
			c.mu.Unlock()
		}
		if c.config.OnFrame != nil {
			c.config.OnFrame(frame)
		}
	}
}

func splitObjectKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '\x00' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
