package websocket

// PresenceTracker derives online users from the registry on every call.
// Nothing is cached, so snapshots cannot drift after an abrupt disconnect.
type PresenceTracker struct {
	registry *Registry
}

func NewPresenceTracker(registry *Registry) *PresenceTracker {
	return &PresenceTracker{registry: registry}
}

// GlobalOnline lists authenticated users, one entry per userId, in the
// order their first connection registered.
func (p *PresenceTracker) GlobalOnline() []OnlineUser {
	return p.online(isAuthenticated)
}

// GlobalOnlineExcept is GlobalOnline without userID, the snapshot a newly
// authenticated user receives.
func (p *PresenceTracker) GlobalOnlineExcept(userID UserID) []OnlineUser {
	return p.online(func(c *Connection) bool {
		return c.authenticated && c.userID != userID
	})
}

// ChannelOnline lists authenticated users whose open channel is ch.
func (p *PresenceTracker) ChannelOnline(ch ChannelID) []OnlineUser {
	return p.online(func(c *Connection) bool {
		return c.authenticated && c.subscribedChannel == ch
	})
}

func (p *PresenceTracker) online(predicate func(*Connection) bool) []OnlineUser {
	users := []OnlineUser{}
	seen := make(map[UserID]struct{})
	p.registry.ForEach(predicate, func(c *Connection) {
		if _, dup := seen[c.userID]; dup {
			return
		}
		seen[c.userID] = struct{}{}
		users = append(users, OnlineUser{UserID: c.userID, Username: c.username})
	})
	return users
}

// announceConnected sends the new connection its snapshot, then tells every
// other user's connections that the user is online.
func (h *Hub) announceConnected(conn *Connection) {
	h.deliver(one(conn), MessageTypeInitialOnlineUsers, InitialOnlineUsersMessage{
		Type:      MessageTypeInitialOnlineUsers,
		Users:     h.presence.GlobalOnlineExcept(conn.userID),
		Timestamp: h.timestamp(),
	})

	others := h.registry.Select(func(c *Connection) bool {
		return c.authenticated && c.userID != conn.userID
	})
	h.deliver(others, MessageTypeUserConnected, PresenceMessage{
		Type:      MessageTypeUserConnected,
		UserID:    conn.userID,
		Username:  conn.username,
		Timestamp: h.timestamp(),
	})
}

// announceDisconnected runs once per removed connection, after it left the
// registry.
func (h *Hub) announceDisconnected(conn *Connection) {
	if conn.authenticated {
		h.deliver(h.registry.Select(isAuthenticated), MessageTypeUserDisconnected, PresenceMessage{
			Type:      MessageTypeUserDisconnected,
			UserID:    conn.userID,
			Username:  conn.username,
			Timestamp: h.timestamp(),
		})
	}
	if ch, ok := conn.SubscribedChannel(); ok {
		h.broadcastChannelPresence(ch)
	}
}

// broadcastChannelPresence sends the current online list of ch to every
// connection that has ch open.
func (h *Hub) broadcastChannelPresence(ch ChannelID) {
	h.deliver(h.subscriptions.Subscribers(ch), MessageTypeChannelOnlineUsers, ChannelOnlineUsersMessage{
		Type:      MessageTypeChannelOnlineUsers,
		ChannelID: ch,
		Users:     h.presence.ChannelOnline(ch),
		Timestamp: h.timestamp(),
	})
}

func one(conn *Connection) []*Connection { return []*Connection{conn} }
