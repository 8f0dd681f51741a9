package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"relay-service/internal/monitoring"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed for the close handshake on shutdown
	closeWait = time.Second
)

// Client is the gorilla/websocket transport behind one hub connection.
// The hub only touches it through the Peer methods.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	probe   chan struct{}
	policy  OverflowPolicy
	limiter *rate.Limiter
	monitor *monitoring.Monitor
	logger  *slog.Logger

	// Connection state management
	ctx    context.Context
	cancel context.CancelFunc
	closed int32

	// sendMu makes drop-oldest a single step against a concurrent Enqueue
	sendMu sync.Mutex

	wg sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := hub.Config()
	id := uuid.New().String()

	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, cfg.SendQueueSize),
		probe:   make(chan struct{}, 1),
		policy:  cfg.OverflowPolicy,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		monitor: hub.monitor,
		logger:  hub.monitor.Logger().With("clientID", id),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

// isClosed returns true if the client is closed
func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// close marks the client as closed and cancels the context
func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
		c.logger.Debug("Client marked as closed")
	}
}

// Enqueue applies the overflow policy when the queue is full.
func (c *Client) Enqueue(frame []byte) bool {
	if c.isClosed() {
		return false
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case c.send <- frame:
		return true
	default:
	}

	c.monitor.Metrics().DroppedMessages.WithLabelValues(string(c.policy)).Inc()

	if c.policy == OverflowDisconnect {
		c.logger.Warn("Send queue full, disconnecting client")
		c.Terminate()
		return false
	}

	select {
	case <-c.send:
		c.logger.Warn("Send queue full, dropped oldest message")
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) Probe() {
	select {
	case c.probe <- struct{}{}:
	default:
	}
}

// Terminate closes the socket without a close frame. Safe from any
// goroutine and idempotent.
func (c *Client) Terminate() {
	c.close()
	c.conn.Close()
}

// Close sends a close frame and then drops the socket. The handshake runs
// on its own goroutine so the caller never waits on the network.
func (c *Client) Close(code int, reason string) {
	if c.isClosed() {
		return
	}
	go func() {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil {
			c.logger.Debug("Error sending close frame", "error", err)
		}
		c.Terminate()
	}()
}

// readTimeout bounds how long a silent socket can block the reader. The
// liveness sweep normally removes such a client first.
func (c *Client) readTimeout() time.Duration {
	return 2*c.hub.Config().HeartbeatInterval + writeWait
}

func (c *Client) readPump() {
	code := websocket.CloseAbnormalClosure
	defer func() {
		c.wg.Done()
		c.close()
		c.hub.Unregister(c.id, code)

		if err := c.conn.Close(); err != nil {
			c.logger.Debug("Error closing connection", "error", err)
		}
	}()

	c.conn.SetReadLimit(c.hub.Config().MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
		c.hub.Pong(c.id)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			code = closeCode(err)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && !c.isClosed() {
				c.logger.Warn("WebSocket read error", "error", err)
			} else {
				c.logger.Debug("WebSocket connection closed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout()))

		if !c.limiter.Allow() {
			c.logger.Warn("Client exceeded message rate, message dropped")
			continue
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Invalid JSON from client", "error", err)
			continue
		}
		if !msg.Type.IsInbound() {
			c.logger.Warn("Unknown message type", "type", msg.Type)
			continue
		}
		c.monitor.Metrics().InboundMessages.WithLabelValues(msg.Type.String()).Inc()

		if err := c.hub.Receive(c.id, &msg); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		c.wg.Done()
		// unblock readPump if the writer failed first
		c.Terminate()
		c.logger.Debug("WritePump finished")
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("Error writing message", "error", err)
				return
			}

		case <-c.probe:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Error sending ping", "error", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// closeCode extracts the peer's close code; anything else is abnormal.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// ServeWS upgrades the request and attaches the new client to the hub.
func ServeWS(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.monitor.Logger().Warn("Failed to upgrade WebSocket connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(hub, conn)
	if err := hub.Register(client.id, client); err != nil {
		client.logger.Warn("Hub unavailable, closing connection", "error", err)
		conn.Close()
		return
	}
	client.logger.Info("New WebSocket connection established", "remote", r.RemoteAddr)

	client.wg.Add(2)
	go client.writePump()
	go client.readPump()
}
