package websocket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// MessageType is the "type" discriminator carried by every frame.
type MessageType string

// Client to server
const (
	MessageTypeAuthenticate             MessageType = "authenticate"
	MessageTypeSubscribe                MessageType = "subscribe"
	MessageTypeUnsubscribe              MessageType = "unsubscribe"
	MessageTypeSubscribeNotifications   MessageType = "subscribe_notifications"
	MessageTypeUnsubscribeNotifications MessageType = "unsubscribe_notifications"
	MessageTypeTypingStart              MessageType = "typing_start"
	MessageTypeTypingStop               MessageType = "typing_stop"
)

// Server to client
const (
	MessageTypeAuthenticated             MessageType = "authenticated"
	MessageTypeAuthenticationError       MessageType = "authentication_error"
	MessageTypeInitialOnlineUsers        MessageType = "initial_online_users"
	MessageTypeUserConnected             MessageType = "user_connected"
	MessageTypeUserDisconnected          MessageType = "user_disconnected"
	MessageTypeSubscribed                MessageType = "subscribed"
	MessageTypeUnsubscribed              MessageType = "unsubscribed"
	MessageTypeChannelOnlineUsers        MessageType = "channel_online_users"
	MessageTypeNotificationsSubscribed   MessageType = "notifications_subscribed"
	MessageTypeNotificationsUnsubscribed MessageType = "notifications_unsubscribed"
	MessageTypeUserTypingStart           MessageType = "user_typing_start"
	MessageTypeUserTypingStop            MessageType = "user_typing_stop"
	MessageTypeRedisMessage              MessageType = "redis_message"
	MessageTypeRedisMessageNotif         MessageType = "redis_message_notif"
	MessageTypeRedisUserlistUpdate       MessageType = "redis_userlist_update"
	MessageTypeUserJoined                MessageType = "user_joined"
	MessageTypeUserLeft                  MessageType = "user_left"
	MessageTypeNewInvitation             MessageType = "new_invitation"
	MessageTypeInvitationAccepted        MessageType = "invitation_accepted"
	MessageTypeInvitationRejected        MessageType = "invitation_rejected"
	MessageTypeDMCreated                 MessageType = "dm_created"
	MessageTypeError                     MessageType = "error"
)

func (mt MessageType) String() string {
	return string(mt)
}

// IsInbound reports whether clients may send this type.
func (mt MessageType) IsInbound() bool {
	switch mt {
	case MessageTypeAuthenticate, MessageTypeSubscribe, MessageTypeUnsubscribe,
		MessageTypeSubscribeNotifications, MessageTypeUnsubscribeNotifications,
		MessageTypeTypingStart, MessageTypeTypingStop:
		return true
	default:
		return false
	}
}

var errInvalidID = errors.New("identifier must be a string or a number")

// decodeID accepts a JSON string or number and returns its text.
func decodeID(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", errInvalidID
	}
	return n.String(), nil
}

// ChannelID is a channel identifier. Clients send it as a string or a
// number; it is always normalized to, and sent back as, a string.
type ChannelID string

func (c *ChannelID) UnmarshalJSON(b []byte) error {
	s, err := decodeID(b)
	if err != nil {
		return fmt.Errorf("channelId: %w", err)
	}
	*c = ChannelID(s)
	return nil
}

// UserID is a user identifier compared in string form. Integer ids are
// written back to clients as JSON numbers.
type UserID string

func (u *UserID) UnmarshalJSON(b []byte) error {
	s, err := decodeID(b)
	if err != nil {
		return fmt.Errorf("userId: %w", err)
	}
	*u = UserID(s)
	return nil
}

func (u UserID) MarshalJSON() ([]byte, error) {
	// Only canonical integers go out as numbers; "+1" or "007" are not JSON.
	if n, err := strconv.ParseInt(string(u), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(u) {
		return []byte(u), nil
	}
	return json.Marshal(string(u))
}

// InboundMessage is the union of every client to server frame.
type InboundMessage struct {
	Type         MessageType     `json:"type"`
	Token        string          `json:"token,omitempty"`
	UserID       UserID          `json:"userId,omitempty"`
	Username     string          `json:"username,omitempty"`
	DMChannelIDs json.RawMessage `json:"dmChannelIds,omitempty"`
	ChannelID    ChannelID       `json:"channelId,omitempty"`
	ChannelIDs   json.RawMessage `json:"channelIds,omitempty"`
}

// parseChannelIDs decodes a JSON array of string or numeric ids.
func parseChannelIDs(raw json.RawMessage) ([]ChannelID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, errors.New("channelIds must be an array")
	}
	var ids []ChannelID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// timestampLayout matches what browser clients produce with toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z"

func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

type OnlineUser struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username"`
}

type AuthenticatedMessage struct {
	Type         MessageType     `json:"type"`
	Success      bool            `json:"success"`
	UserID       UserID          `json:"userId"`
	Username     string          `json:"username"`
	DMChannelIDs json.RawMessage `json:"dmChannelIds"`
}

// TextMessage covers authentication_error and error.
type TextMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type InitialOnlineUsersMessage struct {
	Type      MessageType  `json:"type"`
	Users     []OnlineUser `json:"users"`
	Timestamp string       `json:"timestamp"`
}

// PresenceMessage covers user_connected and user_disconnected.
type PresenceMessage struct {
	Type      MessageType `json:"type"`
	UserID    UserID      `json:"userId"`
	Username  string      `json:"username"`
	Timestamp string      `json:"timestamp"`
}

type SubscriptionMessage struct {
	Type      MessageType `json:"type"`
	ChannelID *ChannelID  `json:"channelId"`
	Success   bool        `json:"success"`
}

type ChannelOnlineUsersMessage struct {
	Type      MessageType  `json:"type"`
	ChannelID ChannelID    `json:"channelId"`
	Users     []OnlineUser `json:"users"`
	Timestamp string       `json:"timestamp"`
}

type NotificationsSubscribedMessage struct {
	Type       MessageType `json:"type"`
	ChannelIDs []ChannelID `json:"channelIds"`
	Success    bool        `json:"success"`
}

type NotificationsUnsubscribedMessage struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
}

type TypingMessage struct {
	Type      MessageType `json:"type"`
	ChannelID ChannelID   `json:"channelId"`
	UserID    UserID      `json:"userId"`
	Username  string      `json:"username"`
	Timestamp string      `json:"timestamp"`
}

// RedisMessage carries a channel-activity payload verbatim.
type RedisMessage struct {
	Type      MessageType `json:"type"`
	Channel   string      `json:"channel"`
	ChannelID ChannelID   `json:"channelId"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

type RedisMessageNotif struct {
	Type      MessageType `json:"type"`
	ChannelID ChannelID   `json:"channelId"`
	Timestamp string      `json:"timestamp"`
}

type UserlistUpdateMessage struct {
	Type             MessageType     `json:"type"`
	ModificationType string          `json:"modification_type"`
	UserID           json.RawMessage `json:"userId"`
	ChannelID        json.RawMessage `json:"channelId"`
	Timestamp        string          `json:"timestamp"`
}

// MembershipMessage covers user_joined and user_left.
type MembershipMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

type NewInvitationMessage struct {
	Type         MessageType     `json:"type"`
	InvitationID json.RawMessage `json:"invitation_id"`
	Channel      json.RawMessage `json:"channel"`
	Inviter      json.RawMessage `json:"inviter"`
	Message      json.RawMessage `json:"message"`
	CreatedAt    json.RawMessage `json:"created_at"`
	Timestamp    string          `json:"timestamp"`
}

// InvitationResponseMessage covers invitation_accepted and
// invitation_rejected.
type InvitationResponseMessage struct {
	Type      MessageType     `json:"type"`
	ChannelID json.RawMessage `json:"channel_id"`
	Channel   json.RawMessage `json:"channel"`
	User      json.RawMessage `json:"user"`
	UserID    json.RawMessage `json:"user_id"`
	InviterID json.RawMessage `json:"inviter_id"`
	Timestamp string          `json:"timestamp"`
}

type DMCreatedMessage struct {
	Type           MessageType     `json:"type"`
	DMID           json.RawMessage `json:"dm_id"`
	ChannelID      json.RawMessage `json:"channel_id"`
	Channel        json.RawMessage `json:"channel"`
	Participant1ID json.RawMessage `json:"participant1_id"`
	Participant2ID json.RawMessage `json:"participant2_id"`
	CreatedAt      json.RawMessage `json:"created_at"`
	Timestamp      string          `json:"timestamp"`
}
