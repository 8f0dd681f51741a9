package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"relay-service/internal/bus"

	"github.com/tidwall/gjson"
)

var ErrInvalidPayload = errors.New("invalid event payload")

// EventForwarder classifies bus events and fans them out to the
// connections that asked for them.
type EventForwarder struct {
	hub        *Hub
	classifier *bus.Classifier
}

func NewEventForwarder(hub *Hub, classifier *bus.Classifier) *EventForwarder {
	return &EventForwarder{hub: hub, classifier: classifier}
}

// Forward delivers one event. An error means the event was skipped; it
// never affects later events.
func (f *EventForwarder) Forward(ev bus.Event) (bus.Kind, error) {
	cls := f.classifier.Classify(ev.Topic)

	var err error
	switch cls.Kind {
	case bus.KindUserJoined:
		err = f.membershipChanged(ev.Payload, MessageTypeUserJoined, "join")
	case bus.KindUserLeft:
		err = f.membershipChanged(ev.Payload, MessageTypeUserLeft, "leave")
	case bus.KindInvitationCreated:
		err = f.invitationCreated(ev.Payload)
	case bus.KindInvitationAccepted:
		err = f.invitationAnswered(ev.Payload, MessageTypeInvitationAccepted)
	case bus.KindInvitationRejected:
		err = f.invitationAnswered(ev.Payload, MessageTypeInvitationRejected)
	case bus.KindDMCreated:
		err = f.dmCreated(ev.Payload)
	default:
		f.channelActivity(cls, ev.Payload)
	}
	return cls.Kind, err
}

func (f *EventForwarder) channelActivity(cls bus.Classification, payload string) {
	ch := ChannelID(cls.ChannelID)
	full, notify := f.hub.subscriptions.MatchingForChannelActivity(ch)
	ts := f.hub.timestamp()

	f.hub.deliver(full, MessageTypeRedisMessage, RedisMessage{
		Type:      MessageTypeRedisMessage,
		Channel:   cls.Topic,
		ChannelID: ch,
		Message:   payload,
		Timestamp: ts,
	})
	f.hub.deliver(notify, MessageTypeRedisMessageNotif, RedisMessageNotif{
		Type:      MessageTypeRedisMessageNotif,
		ChannelID: ch,
		Timestamp: ts,
	})
}

// membershipChanged relays a backend channel membership change to the
// channel's subscribers. It is unrelated to socket presence.
func (f *EventForwarder) membershipChanged(payload string, mt MessageType, modification string) error {
	data, err := parseObject(payload)
	if err != nil {
		return err
	}
	channelID := data.Get("channel_id")
	if !channelID.Exists() {
		return fmt.Errorf("%w: missing channel_id", ErrInvalidPayload)
	}

	subscribers := f.hub.subscriptions.Subscribers(ChannelID(channelID.String()))
	f.hub.deliver(subscribers, mt, MembershipMessage{
		Type: mt,
		Data: json.RawMessage(payload),
	})
	f.hub.deliver(subscribers, MessageTypeRedisUserlistUpdate, UserlistUpdateMessage{
		Type:             MessageTypeRedisUserlistUpdate,
		ModificationType: modification,
		UserID:           raw(data.Get("user_id")),
		ChannelID:        raw(channelID),
		Timestamp:        f.hub.timestamp(),
	})
	return nil
}

func (f *EventForwarder) invitationCreated(payload string) error {
	data, err := parseObject(payload)
	if err != nil {
		return err
	}
	recipient := data.Get("recipient_id")
	if !recipient.Exists() {
		return fmt.Errorf("%w: missing recipient_id", ErrInvalidPayload)
	}

	f.hub.deliver(f.connectionsOf(recipient.String()), MessageTypeNewInvitation, NewInvitationMessage{
		Type:         MessageTypeNewInvitation,
		InvitationID: raw(data.Get("id")),
		Channel:      raw(data.Get("channel")),
		Inviter:      raw(data.Get("inviter")),
		Message:      raw(data.Get("message")),
		CreatedAt:    raw(data.Get("created_at")),
		Timestamp:    f.hub.timestamp(),
	})
	return nil
}

// invitationAnswered tells the inviter that the invitee accepted or
// rejected.
func (f *EventForwarder) invitationAnswered(payload string, mt MessageType) error {
	data, err := parseObject(payload)
	if err != nil {
		return err
	}
	inviter := data.Get("inviter_id")
	if !inviter.Exists() {
		return fmt.Errorf("%w: missing inviter_id", ErrInvalidPayload)
	}

	f.hub.deliver(f.connectionsOf(inviter.String()), mt, InvitationResponseMessage{
		Type:      mt,
		ChannelID: raw(data.Get("channel_id")),
		Channel:   raw(data.Get("channel")),
		User:      raw(data.Get("user")),
		UserID:    raw(data.Get("user_id")),
		InviterID: raw(inviter),
		Timestamp: f.hub.timestamp(),
	})
	return nil
}

func (f *EventForwarder) dmCreated(payload string) error {
	data, err := parseObject(payload)
	if err != nil {
		return err
	}
	p1, p2 := data.Get("participant1_id"), data.Get("participant2_id")
	if !p1.Exists() && !p2.Exists() {
		return fmt.Errorf("%w: missing participants", ErrInvalidPayload)
	}

	participants := map[UserID]struct{}{}
	for _, p := range []gjson.Result{p1, p2} {
		if p.Exists() {
			participants[UserID(p.String())] = struct{}{}
		}
	}
	recipients := f.hub.registry.Select(func(c *Connection) bool {
		_, ok := participants[c.userID]
		return c.authenticated && ok
	})

	f.hub.deliver(recipients, MessageTypeDMCreated, DMCreatedMessage{
		Type:           MessageTypeDMCreated,
		DMID:           raw(data.Get("dm_id")),
		ChannelID:      raw(data.Get("channel_id")),
		Channel:        raw(data.Get("channel")),
		Participant1ID: raw(p1),
		Participant2ID: raw(p2),
		CreatedAt:      raw(data.Get("created_at")),
		Timestamp:      f.hub.timestamp(),
	})
	return nil
}

// connectionsOf returns every authenticated connection of userID.
func (f *EventForwarder) connectionsOf(userID string) []*Connection {
	return f.hub.registry.Select(func(c *Connection) bool {
		return c.authenticated && string(c.userID) == userID
	})
}

func parseObject(payload string) (gjson.Result, error) {
	if !gjson.Valid(payload) {
		return gjson.Result{}, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	data := gjson.Parse(payload)
	if !data.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: not a JSON object", ErrInvalidPayload)
	}
	return data, nil
}

func raw(r gjson.Result) json.RawMessage {
	if !r.Exists() {
		return nil
	}
	return json.RawMessage(r.Raw)
}
