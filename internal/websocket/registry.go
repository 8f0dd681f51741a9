package websocket

import (
	"errors"
	"sort"
	"time"
)

var ErrConnectionNotFound = errors.New("connection not found")

// Peer is the transport behind a connection. The hub calls these methods
// from its own goroutine, so none of them may block.
type Peer interface {
	// Enqueue queues one frame for writing. It reports false when the frame
	// was not queued because the peer is closed or its queue overflowed.
	Enqueue(frame []byte) bool
	// Probe asks the transport to send a liveness ping.
	Probe()
	// Terminate drops the transport without a close handshake.
	Terminate()
	// Close performs a close handshake with code and reason.
	Close(code int, reason string)
}

// Connection is the registry's record of one live socket. Its fields are
// owned by the hub goroutine and only change through Registry and
// LivenessMonitor.
type Connection struct {
	id          string
	peer        Peer
	connectedAt time.Time

	userID        UserID
	username      string
	authenticated bool

	subscribedChannel    ChannelID
	notificationChannels map[ChannelID]struct{}

	alive        bool
	awaitingPong bool
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) UserID() UserID         { return c.userID }
func (c *Connection) Username() string       { return c.username }
func (c *Connection) Authenticated() bool    { return c.authenticated }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// SubscribedChannel returns the open channel, if any.
func (c *Connection) SubscribedChannel() (ChannelID, bool) {
	return c.subscribedChannel, c.subscribedChannel != ""
}

func (c *Connection) WantsNotifications(ch ChannelID) bool {
	_, ok := c.notificationChannels[ch]
	return ok
}

// NotificationChannels returns the notification set in sorted order.
func (c *Connection) NotificationChannels() []ChannelID {
	out := make([]ChannelID, 0, len(c.notificationChannels))
	for ch := range c.notificationChannels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Registry is the table of live connections. It is not safe for concurrent
// use; the hub goroutine owns it.
type Registry struct {
	conns map[string]*Connection
	// order keeps registration order so scans are deterministic.
	order         []*Connection
	authenticated int
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

func (r *Registry) Register(id string, peer Peer, now time.Time) *Connection {
	if existing, ok := r.conns[id]; ok {
		return existing
	}
	conn := &Connection{
		id:                   id,
		peer:                 peer,
		connectedAt:          now,
		notificationChannels: make(map[ChannelID]struct{}),
		alive:                true,
	}
	r.conns[id] = conn
	r.order = append(r.order, conn)
	return conn
}

func (r *Registry) Get(id string) (*Connection, bool) {
	conn, ok := r.conns[id]
	return conn, ok
}

// SetIdentity marks the connection authenticated as userID. A second call
// overwrites the identity in place.
func (r *Registry) SetIdentity(id string, userID UserID, username string) error {
	conn, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	if !conn.authenticated {
		r.authenticated++
	}
	conn.userID = userID
	conn.username = username
	conn.authenticated = true
	return nil
}

// SetSubscribedChannel replaces the open channel and returns the previous
// one. An empty ch clears the subscription.
func (r *Registry) SetSubscribedChannel(id string, ch ChannelID) (ChannelID, error) {
	conn, ok := r.conns[id]
	if !ok {
		return "", ErrConnectionNotFound
	}
	previous := conn.subscribedChannel
	conn.subscribedChannel = ch
	return previous, nil
}

func (r *Registry) AddNotificationChannels(id string, channels []ChannelID) error {
	conn, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	for _, ch := range channels {
		if ch != "" {
			conn.notificationChannels[ch] = struct{}{}
		}
	}
	return nil
}

func (r *Registry) ClearNotificationChannels(id string) error {
	conn, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	clear(conn.notificationChannels)
	return nil
}

// Remove deletes the connection with every subscription it held. It
// reports false if the connection was already gone.
func (r *Registry) Remove(id string) (*Connection, bool) {
	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	for i, c := range r.order {
		if c == conn {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if conn.authenticated {
		r.authenticated--
	}
	return conn, true
}

// ForEach calls action for every connection matching predicate, in
// registration order. A nil predicate matches all. action must not add or
// remove connections.
func (r *Registry) ForEach(predicate func(*Connection) bool, action func(*Connection)) {
	for _, conn := range r.order {
		if predicate == nil || predicate(conn) {
			action(conn)
		}
	}
}

// Select collects the connections matching predicate.
func (r *Registry) Select(predicate func(*Connection) bool) []*Connection {
	var out []*Connection
	r.ForEach(predicate, func(c *Connection) { out = append(out, c) })
	return out
}

func (r *Registry) Len() int { return len(r.conns) }

func (r *Registry) AuthenticatedLen() int { return r.authenticated }

func isAuthenticated(c *Connection) bool { return c.authenticated }
