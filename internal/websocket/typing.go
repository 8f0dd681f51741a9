package websocket

// TypingCoordinator finds who should see a sender's typing indicator.
// Typing state is advisory and never stored.
type TypingCoordinator struct {
	registry *Registry
}

func NewTypingCoordinator(registry *Registry) *TypingCoordinator {
	return &TypingCoordinator{registry: registry}
}

// Recipients returns every other authenticated connection with ch open.
func (t *TypingCoordinator) Recipients(sender *Connection, ch ChannelID) []*Connection {
	return t.registry.Select(func(c *Connection) bool {
		return c != sender && c.authenticated && c.subscribedChannel == ch
	})
}

func (h *Hub) relayTyping(conn *Connection, msg *InboundMessage, mt MessageType) {
	if msg.ChannelID == "" {
		h.replyError(conn, "channelId is required")
		return
	}
	h.deliver(h.typing.Recipients(conn, msg.ChannelID), mt, TypingMessage{
		Type:      mt,
		ChannelID: msg.ChannelID,
		UserID:    conn.userID,
		Username:  conn.username,
		Timestamp: h.timestamp(),
	})
}
