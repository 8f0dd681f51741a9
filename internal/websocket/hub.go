package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"relay-service/internal/auth"
	"relay-service/internal/bus"
	"relay-service/internal/monitoring"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var ErrHubStopped = fmt.Errorf("hub stopped")

type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDisconnect OverflowPolicy = "disconnect"
)

type HubConfig struct {
	HeartbeatInterval time.Duration
	SendQueueSize     int
	OverflowPolicy    OverflowPolicy
	MaxMessageSize    int64
	RateLimit         rate.Limit
	RateBurst         int
	TopicPrefixes     []string
}

func (c HubConfig) withDefaults() HubConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = OverflowDropOldest
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.RateLimit <= 0 {
		c.RateLimit = rate.Inf
	}
	return c
}

type ClientMessage struct {
	ConnID  string
	Message *InboundMessage
}

type registration struct {
	id   string
	peer Peer
}

type disconnect struct {
	id   string
	code int
}

type authResult struct {
	connID       string
	decision     auth.Decision
	dmChannelIDs []ChannelID
	dmRaw        json.RawMessage
}

// Hub owns every piece of connection state. All mutation happens on the
// goroutine running Run, reached through the channels below; network I/O
// never happens there.
type Hub struct {
	cfg     HubConfig
	gate    *auth.Gate
	monitor *monitoring.Monitor

	registry      *Registry
	subscriptions *SubscriptionRouter
	presence      *PresenceTracker
	typing        *TypingCoordinator
	liveness      *LivenessMonitor
	forwarder     *EventForwarder

	dispatch map[MessageType]func(*Connection, *InboundMessage)

	register      chan registration
	unregister    chan disconnect
	handleMessage chan *ClientMessage
	authResults   chan authResult
	events        chan bus.Event
	pongs         chan string
	sweeps        chan struct{}
	calls         chan func()

	connections   atomic.Int64
	authenticated atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

func NewHub(cfg HubConfig, gate *auth.Gate, monitor *monitoring.Monitor) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if monitor == nil {
		monitor = monitoring.NewNop()
	}
	if gate == nil {
		gate = auth.NewGate(nil, true, 0, monitor)
	}

	registry := NewRegistry()
	h := &Hub{
		cfg:           cfg.withDefaults(),
		gate:          gate,
		monitor:       monitor,
		registry:      registry,
		subscriptions: NewSubscriptionRouter(registry),
		presence:      NewPresenceTracker(registry),
		typing:        NewTypingCoordinator(registry),
		liveness:      NewLivenessMonitor(registry),
		register:      make(chan registration),
		unregister:    make(chan disconnect),
		handleMessage: make(chan *ClientMessage),
		authResults:   make(chan authResult),
		events:        make(chan bus.Event, 256),
		pongs:         make(chan string, 64),
		sweeps:        make(chan struct{}),
		calls:         make(chan func()),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		now:           time.Now,
	}
	h.forwarder = NewEventForwarder(h, bus.NewClassifier(cfg.TopicPrefixes))
	h.dispatch = map[MessageType]func(*Connection, *InboundMessage){
		MessageTypeAuthenticate:             h.handleAuthenticate,
		MessageTypeSubscribe:                h.handleSubscribe,
		MessageTypeUnsubscribe:              h.handleUnsubscribe,
		MessageTypeSubscribeNotifications:   h.handleSubscribeNotifications,
		MessageTypeUnsubscribeNotifications: h.handleUnsubscribeNotifications,
		MessageTypeTypingStart:              h.requireAuth(h.handleTypingStart),
		MessageTypeTypingStop:               h.requireAuth(h.handleTypingStop),
	}
	return h
}

func (h *Hub) Config() HubConfig { return h.cfg }

// Events is where bus subscribers deliver events, in arrival order.
func (h *Hub) Events() chan<- bus.Event { return h.events }

// ConnectionCount and AuthenticatedCount are safe from any goroutine.
func (h *Hub) ConnectionCount() int    { return int(h.connections.Load()) }
func (h *Hub) AuthenticatedCount() int { return int(h.authenticated.Load()) }

// Run processes hub events until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	h.monitor.Event("hub_started", "WebSocket hub started", "heartbeat", h.cfg.HeartbeatInterval)

	for {
		select {
		case reg := <-h.register:
			h.safely("register", func() { h.registerPeer(reg) })

		case d := <-h.unregister:
			h.safely("unregister", func() { h.removeConnection(d.id, d.code) })

		case cm := <-h.handleMessage:
			h.safely("handle message", func() { h.handleClientMessage(cm) })

		case res := <-h.authResults:
			h.safely("apply auth result", func() { h.applyAuthResult(res) })

		case ev := <-h.events:
			h.safely("forward event", func() { h.forwardEvent(ev) })

		case id := <-h.pongs:
			h.liveness.MarkAlive(id)

		case <-ticker.C:
			h.safely("liveness sweep", h.sweep)

		case <-h.sweeps:
			h.safely("liveness sweep", h.sweep)

		case fn := <-h.calls:
			h.safely("call", fn)

		case <-h.ctx.Done():
			h.closeAll(websocket.CloseGoingAway, "Server shutting down")
			h.monitor.Event("hub_stopped", "WebSocket hub shutting down")
			return
		}
	}
}

// Stop closes every connection with 1001 and waits for Run to return.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

// Register adds a peer under id. It blocks until the hub accepts it.
func (h *Hub) Register(id string, peer Peer) error {
	select {
	case h.register <- registration{id: id, peer: peer}:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// Unregister removes id; code is the close code seen by the transport.
func (h *Hub) Unregister(id string, code int) {
	select {
	case h.unregister <- disconnect{id: id, code: code}:
	case <-h.ctx.Done():
	}
}

// Receive hands a decoded client message to the hub.
func (h *Hub) Receive(id string, msg *InboundMessage) error {
	select {
	case h.handleMessage <- &ClientMessage{ConnID: id, Message: msg}:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// Pong records a liveness answer from id.
func (h *Hub) Pong(id string) {
	select {
	case h.pongs <- id:
	case <-h.ctx.Done():
	}
}

// call runs fn on the hub goroutine and waits for it.
func (h *Hub) call(fn func()) error {
	done := make(chan struct{})
	select {
	case h.calls <- func() { defer close(done); fn() }:
	case <-h.ctx.Done():
		return ErrHubStopped
	}
	<-done
	return nil
}

// triggerSweep runs a liveness sweep now.
func (h *Hub) triggerSweep() {
	select {
	case h.sweeps <- struct{}{}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerPeer(reg registration) {
	h.registry.Register(reg.id, reg.peer, h.now())
	h.syncCounters()
	h.monitor.Logger().Info("Client registered", "clientID", reg.id, "clients", h.registry.Len())
}

// removeConnection is idempotent: only the first removal of an id is
// announced.
func (h *Hub) removeConnection(id string, code int) {
	conn, ok := h.registry.Remove(id)
	if !ok {
		return
	}
	h.syncCounters()

	logger := h.monitor.Logger()
	if isNormalClose(code) {
		logger.Info("Client disconnected", "clientID", id, "userID", conn.userID, "code", code)
	} else {
		logger.Warn("Client disconnected abnormally", "clientID", id, "userID", conn.userID, "code", code)
	}

	h.announceDisconnected(conn)
}

func (h *Hub) sweep() {
	for _, conn := range h.liveness.Sweep() {
		conn.peer.Terminate()
		h.monitor.Metrics().LivenessTerminate.Inc()
		h.monitor.Logger().Warn("Terminating unresponsive client", "clientID", conn.id, "userID", conn.userID)
		h.removeConnection(conn.id, websocket.CloseAbnormalClosure)
	}
}

func (h *Hub) handleClientMessage(cm *ClientMessage) {
	conn, ok := h.registry.Get(cm.ConnID)
	if !ok {
		h.monitor.Logger().Debug("Message for unknown client dropped", "clientID", cm.ConnID, "type", cm.Message.Type)
		return
	}

	handler, ok := h.dispatch[cm.Message.Type]
	if !ok {
		h.monitor.Logger().Warn("Unknown message type", "clientID", conn.id, "type", cm.Message.Type)
		return
	}
	handler(conn, cm.Message)
}

func (h *Hub) forwardEvent(ev bus.Event) {
	kind, err := h.forwarder.Forward(ev)
	if err != nil {
		h.monitor.Metrics().BusParseErrors.WithLabelValues(kind.String()).Inc()
		h.monitor.Error("forwarder", "parse "+kind.String(), err, "topic", ev.Topic)
		return
	}
	h.monitor.Metrics().BusEvents.WithLabelValues(kind.String()).Inc()
}

func (h *Hub) closeAll(code int, reason string) {
	h.registry.ForEach(nil, func(c *Connection) {
		c.peer.Close(code, reason)
	})
}

// deliver encodes v once and queues it on every connection in conns. A
// failure for one recipient does not affect the others.
func (h *Hub) deliver(conns []*Connection, mt MessageType, v any) {
	if len(conns) == 0 {
		return
	}
	frame, err := json.Marshal(v)
	if err != nil {
		h.monitor.Error("hub", "encode "+mt.String(), err)
		return
	}
	for _, c := range conns {
		if !c.peer.Enqueue(frame) {
			h.monitor.Logger().Debug("Message not queued", "clientID", c.id, "type", mt)
			continue
		}
		h.monitor.Metrics().OutboundMessages.WithLabelValues(mt.String()).Inc()
	}
}

func (h *Hub) replyError(conn *Connection, message string) {
	h.deliver(one(conn), MessageTypeError, TextMessage{Type: MessageTypeError, Message: message})
}

func (h *Hub) timestamp() string {
	return Timestamp(h.now())
}

func (h *Hub) syncCounters() {
	h.connections.Store(int64(h.registry.Len()))
	h.authenticated.Store(int64(h.registry.AuthenticatedLen()))
	h.monitor.Metrics().Connections.Set(float64(h.registry.Len()))
	h.monitor.Metrics().Authenticated.Set(float64(h.registry.AuthenticatedLen()))
}

// safely recovers a panicking reaction so one bad message or event cannot
// stop the loop.
func (h *Hub) safely(action string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.monitor.Error("hub", action, fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

func isNormalClose(code int) bool {
	switch code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}
