package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gazewatch/backend/internal/session"
)

// ErrConnClosed is returned by sends after the connection's write side has
// shut down.
var ErrConnClosed = errors.New("connection closed")

var errClientGone = errors.New("client disconnected")

// closeGrace bounds how long a connection waits for the client's close reply
// after the server sent a going-away frame.
const closeGrace = time.Second

const sendBuffer = 64

// conn is one client connection. The read loop owns dispatch; every write
// goes through writePump so that messages leave in the order they were
// queued.
type conn struct {
	id  string
	srv *Server
	ws  *websocket.Conn
	log logrus.FieldLogger

	send     chan []byte
	quit     chan struct{}
	quitOnce sync.Once
	pumpDone chan struct{}

	mu            sync.Mutex
	tracker       *session.Tracker
	cancelTracker context.CancelCauseFunc
	trackerDone   chan struct{}
}

func newConn(srv *Server, ws *websocket.Conn, info *session.ConnInfo) *conn {
	return &conn{
		id:  info.ID,
		srv: srv,
		ws:  ws,
		log: srv.log.WithFields(logrus.Fields{
			"conn":   info.ID,
			"remote": info.RemoteAddr,
		}),
		send:     make(chan []byte, sendBuffer),
		quit:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

// serve runs the connection until the client goes away or parent is
// cancelled by a server shutdown.
func (c *conn) serve(parent context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	readDone := make(chan struct{})

	watchDone := make(chan struct{})

	go c.writePump()
	go func() {
		defer close(watchDone)
		c.watchShutdown(parent, readDone)
	}()

	c.welcome()
	c.readLoop(ctx)
	close(readDone)

	cancel(errClientGone)
	c.stop()
	c.waitTracker()
	<-watchDone
	<-c.pumpDone

	c.srv.registry.Remove(c.id)
	c.srv.metrics.ConnClosed()
	c.log.WithField("clients", c.srv.registry.Count()).Info("client disconnected")
}

// watchShutdown stops the tracker, waits for the camera release and tells
// the client the server is going away.
func (c *conn) watchShutdown(parent context.Context, readDone <-chan struct{}) {
	select {
	case <-readDone:
		return
	case <-parent.Done():
	}

	c.waitTracker()

	deadline := time.Now().Add(c.srv.cfg.Server.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.log.Debugf("close frame: %v", err)
	}
	c.ws.SetReadDeadline(time.Now().Add(closeGrace))
}

func (c *conn) welcome() {
	c.enqueue(ConnectionMessage{
		Type:      MsgConnection,
		Message:   welcomeText,
		Timestamp: timestamp(time.Now()),
		ServerInfo: ServerInfo{
			Version:      ProtocolVersion,
			Capabilities: c.srv.capabilities,
		},
	})
}

func (c *conn) readLoop(ctx context.Context) {
	cfg := c.srv.cfg.Server
	idle := cfg.PingInterval + cfg.PongTimeout

	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		if ctx.Err() != nil {
			return nil
		}
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				c.log.Warnf("read error: %v", err)
			} else {
				c.log.Debugf("read loop ended: %v", err)
			}
			return
		}
		c.dispatch(ctx, data)
	}
}

func (c *conn) dispatch(ctx context.Context, data []byte) {
	cmd, err := DecodeCommand(data)
	if err != nil {
		c.log.Warn("invalid JSON received")
		c.srv.metrics.ProtocolError("malformed")
		c.SendError(errTextInvalidJSON)
		return
	}
	c.srv.metrics.MessageReceived(commandLabel(cmd))

	switch m := cmd.(type) {
	case StartTracking:
		c.startTracking(ctx)
	case StopTracking:
		c.stopTracking()
	case Ping:
		c.enqueue(PongMessage{Type: MsgPong, Timestamp: timestamp(time.Now())})
	case StatusQuery:
		c.enqueue(StatusMessage{
			Type:             MsgStatus,
			IsTracking:       c.isTracking(),
			ConnectedClients: c.srv.registry.Count(),
			Timestamp:        timestamp(time.Now()),
		})
	case Unknown:
		c.log.WithField("type", m.Type).Warn("unknown message type")
		c.srv.metrics.ProtocolError("unknown_type")
		c.SendError(errTextUnknownType + m.Type)
	}
}

// startTracking spawns a tracker unless one is already active. A tracker
// started right after a stop waits for its predecessor to release the
// camera.
func (c *conn) startTracking(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tracker != nil && c.tracker.Active() {
		c.log.Debug("start_tracking ignored, already tracking")
		return
	}

	tctx, cancel := context.WithCancelCause(ctx)
	tr := c.srv.newTracker(c, c.log)
	prev := c.trackerDone
	done := make(chan struct{})

	c.tracker = tr
	c.cancelTracker = cancel
	c.trackerDone = done
	c.srv.registry.SetTracking(c.id, true)
	c.log.Info("starting tracking")

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		tr.Run(tctx)
		cancel(nil)
		c.trackerExited(tr)
	}()
}

func (c *conn) stopTracking() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelTracker == nil {
		return
	}
	c.log.Info("stopping tracking")
	c.cancelTracker(session.ErrStopRequested)
	c.tracker = nil
	c.cancelTracker = nil
	c.srv.registry.SetTracking(c.id, false)
}

func (c *conn) trackerExited(tr *session.Tracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracker != tr {
		return
	}
	c.tracker = nil
	c.cancelTracker = nil
	c.srv.registry.SetTracking(c.id, false)
}

func (c *conn) isTracking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker != nil && c.tracker.Active()
}

// waitTracker blocks until the most recent tracker, and with it every
// earlier one, has returned and released its camera.
func (c *conn) waitTracker() {
	c.mu.Lock()
	done := c.trackerDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// SendEvent implements session.Sink.
func (c *conn) SendEvent(ev session.DetectionEvent) error {
	return c.enqueue(newEyeData(ev))
}

// SendError implements session.Sink.
func (c *conn) SendError(message string) error {
	return c.enqueue(newError(message, time.Now()))
}

func (c *conn) enqueue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	select {
	case <-c.quit:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.quit:
		return ErrConnClosed
	}
}

// stop shuts the write side down. Pending messages are dropped.
func (c *conn) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

func (c *conn) writePump() {
	cfg := c.srv.cfg.Server
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.pumpDone)
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debugf("write failed: %v", err)
				c.stop()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				c.log.Debugf("ping failed: %v", err)
				c.stop()
				return
			}
		case <-c.quit:
			return
		}
	}
}
