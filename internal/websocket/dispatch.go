package websocket

import (
	"encoding/json"

	"relay-service/internal/auth"
)

const messageNotAuthenticated = "not authenticated"

// requireAuth answers unauthenticated connections with an error instead of
// running handler.
func (h *Hub) requireAuth(handler func(*Connection, *InboundMessage)) func(*Connection, *InboundMessage) {
	return func(conn *Connection, msg *InboundMessage) {
		if !conn.authenticated {
			h.monitor.Logger().Warn("Message from unauthenticated client rejected", "clientID", conn.id, "type", msg.Type)
			h.replyError(conn, messageNotAuthenticated)
			return
		}
		handler(conn, msg)
	}
}

// handleAuthenticate validates off the hub goroutine and posts the
// decision back through authResults.
func (h *Hub) handleAuthenticate(conn *Connection, msg *InboundMessage) {
	req := auth.Request{Token: msg.Token, UserID: string(msg.UserID), Username: msg.Username}
	if err := req.Check(); err != nil {
		h.monitor.Metrics().AuthOutcomes.WithLabelValues("missing_credentials").Inc()
		h.deliver(one(conn), MessageTypeAuthenticationError, TextMessage{
			Type:    MessageTypeAuthenticationError,
			Message: err.Error(),
		})
		return
	}

	res := authResult{connID: conn.id}
	if len(msg.DMChannelIDs) > 0 && string(msg.DMChannelIDs) != "null" {
		ids, err := parseChannelIDs(msg.DMChannelIDs)
		if err != nil {
			h.monitor.Logger().Warn("Ignoring invalid dmChannelIds", "clientID", conn.id, "error", err)
		} else {
			res.dmChannelIDs = ids
			res.dmRaw = msg.DMChannelIDs
		}
	}

	go func() {
		res.decision = h.gate.Authenticate(h.ctx, req)
		select {
		case h.authResults <- res:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) applyAuthResult(res authResult) {
	conn, ok := h.registry.Get(res.connID)
	if !ok {
		h.monitor.Logger().Debug("Auth result for closed client dropped", "clientID", res.connID)
		return
	}

	d := res.decision
	if !d.Accepted {
		h.monitor.Logger().Warn("Authentication failed", "clientID", conn.id, "outcome", d.Outcome, "reason", d.Message)
		h.deliver(one(conn), MessageTypeAuthenticationError, TextMessage{
			Type:    MessageTypeAuthenticationError,
			Message: d.Message,
		})
		return
	}

	userID := UserID(d.UserID)
	_ = h.registry.SetIdentity(conn.id, userID, d.Username)
	if res.dmChannelIDs != nil {
		_ = h.subscriptions.SubscribeNotifications(conn.id, res.dmChannelIDs)
	}
	h.syncCounters()

	dmRaw := res.dmRaw
	if dmRaw == nil {
		dmRaw = json.RawMessage("[]")
	}
	h.deliver(one(conn), MessageTypeAuthenticated, AuthenticatedMessage{
		Type:         MessageTypeAuthenticated,
		Success:      true,
		UserID:       userID,
		Username:     d.Username,
		DMChannelIDs: dmRaw,
	})
	h.monitor.Event("user_authenticated", "User authenticated",
		"clientID", conn.id, "userID", userID, "outcome", d.Outcome)

	h.announceConnected(conn)
}

func (h *Hub) handleSubscribe(conn *Connection, msg *InboundMessage) {
	ch := msg.ChannelID
	if ch == "" {
		h.monitor.Logger().Warn("Subscribe without channelId", "clientID", conn.id)
		h.replyError(conn, "channelId is required")
		return
	}

	previous, _ := h.subscriptions.Subscribe(conn.id, ch)
	h.deliver(one(conn), MessageTypeSubscribed, SubscriptionMessage{
		Type:      MessageTypeSubscribed,
		ChannelID: &ch,
		Success:   true,
	})
	h.monitor.Logger().Debug("Client subscribed", "clientID", conn.id, "channelID", ch, "previous", previous)

	h.broadcastChannelPresence(ch)
	if previous != "" && previous != ch {
		h.broadcastChannelPresence(previous)
	}
}

func (h *Hub) handleUnsubscribe(conn *Connection, _ *InboundMessage) {
	previous, _ := h.subscriptions.Unsubscribe(conn.id)

	reply := SubscriptionMessage{Type: MessageTypeUnsubscribed, Success: true}
	if previous != "" {
		reply.ChannelID = &previous
	}
	h.deliver(one(conn), MessageTypeUnsubscribed, reply)

	if previous != "" {
		h.broadcastChannelPresence(previous)
	}
}

func (h *Hub) handleSubscribeNotifications(conn *Connection, msg *InboundMessage) {
	ids, err := parseChannelIDs(msg.ChannelIDs)
	if err != nil {
		h.replyError(conn, "channelIds must be an array")
		return
	}
	if ids == nil {
		ids = []ChannelID{}
	}

	_ = h.subscriptions.SubscribeNotifications(conn.id, ids)
	h.deliver(one(conn), MessageTypeNotificationsSubscribed, NotificationsSubscribedMessage{
		Type:       MessageTypeNotificationsSubscribed,
		ChannelIDs: ids,
		Success:    true,
	})
}

func (h *Hub) handleUnsubscribeNotifications(conn *Connection, _ *InboundMessage) {
	_ = h.subscriptions.UnsubscribeNotifications(conn.id)
	h.deliver(one(conn), MessageTypeNotificationsUnsubscribed, NotificationsUnsubscribedMessage{
		Type:    MessageTypeNotificationsUnsubscribed,
		Success: true,
	})
}

func (h *Hub) handleTypingStart(conn *Connection, msg *InboundMessage) {
	h.relayTyping(conn, msg, MessageTypeUserTypingStart)
}

func (h *Hub) handleTypingStop(conn *Connection, msg *InboundMessage) {
	h.relayTyping(conn, msg, MessageTypeUserTypingStop)
}
