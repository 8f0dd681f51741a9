package websocket

import (
	"testing"
	"time"

	"relay-service/internal/bus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forwardFixture logs in alice (1) and bob (2) on channel 5 and carol (3)
// on channel 6.
func forwardFixture(t *testing.T) (*Hub, map[string]*fakePeer) {
	t.Helper()
	h := createTestHub(t, nil)
	peers := map[string]*fakePeer{}
	for _, u := range []struct {
		id      string
		userID  int
		channel string
	}{
		{"alice", 1, "5"},
		{"bob", 2, "5"},
		{"carol", 3, "6"},
	} {
		peers[u.id] = connect(t, h, u.id)
		login(t, h, u.id, peers[u.id], u.userID, u.id)
		send(t, h, u.id, `{"type":"subscribe","channelId":"`+u.channel+`"}`)
	}
	flush(t, h)
	for _, p := range peers {
		p.reset()
	}
	return h, peers
}

func TestForwardChannelActivity(t *testing.T) {
	h, peers := forwardFixture(t)

	var (
		kind bus.Kind
		err  error
	)
	require.NoError(t, h.call(func() {
		kind, err = h.forwarder.Forward(bus.Event{Topic: "laravel-database-channel.6", Payload: "plain text"})
	}))
	require.NoError(t, err)
	assert.Equal(t, bus.KindChannelActivity, kind)

	msgs := peers["carol"].ofType(MessageTypeRedisMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "plain text", msgs[0]["message"], "payload is relayed verbatim")
	assert.Equal(t, "2024-05-01T12:00:00.000Z", msgs[0]["timestamp"])
	assert.Empty(t, peers["alice"].messages())
	assert.Empty(t, peers["bob"].messages())
}

func TestForwardMembershipChanges(t *testing.T) {
	h, peers := forwardFixture(t)

	publish(t, h, "laravel-database-private-channel.user.joined", `{"channel_id":5,"user_id":9,"user":{"name":"zed"}}`)

	for _, id := range []string{"alice", "bob"} {
		assert.Equal(t, []string{"user_joined", "redis_userlist_update"}, peers[id].types(), id)
	}
	assert.Empty(t, peers["carol"].messages())

	joined := peers["alice"].ofType(MessageTypeUserJoined)[0]
	assert.Equal(t, map[string]any{"name": "zed"}, joined["data"].(map[string]any)["user"])
	update := peers["alice"].ofType(MessageTypeRedisUserlistUpdate)[0]
	assert.Equal(t, "join", update["modification_type"])
	assert.Equal(t, float64(9), update["userId"])
	assert.Equal(t, float64(5), update["channelId"], "raw value is passed through")

	publish(t, h, "channel.user.left", `{"channel_id":"6","user_id":1}`)
	assert.Equal(t, []string{"user_left", "redis_userlist_update"}, peers["carol"].types())
	assert.Equal(t, "leave", peers["carol"].ofType(MessageTypeRedisUserlistUpdate)[0]["modification_type"])
}

func TestForwardInvitations(t *testing.T) {
	h, peers := forwardFixture(t)
	bob2 := connect(t, h, "bob2")
	login(t, h, "bob2", bob2, 2, "bob")
	for _, p := range peers {
		p.reset()
	}
	bob2.reset()

	publish(t, h, "invitation.created", `{"id":11,"recipient_id":2,"channel":{"id":5},"inviter":{"id":1},"message":"join us","created_at":"2024-05-01"}`)

	assert.Empty(t, peers["alice"].messages())
	assert.Empty(t, peers["carol"].messages())
	for _, p := range []*fakePeer{peers["bob"], bob2} {
		inv := p.ofType(MessageTypeNewInvitation)
		require.Len(t, inv, 1)
		assert.Equal(t, float64(11), inv[0]["invitation_id"])
		assert.Equal(t, "join us", inv[0]["message"])
		assert.Equal(t, map[string]any{"id": float64(1)}, inv[0]["inviter"])
	}

	publish(t, h, "invitation.accepted", `{"channel_id":5,"user_id":2,"inviter_id":1,"user":{"id":2}}`)
	publish(t, h, "invitation.rejected", `{"channel_id":5,"user_id":3,"inviter_id":"1"}`)

	assert.Equal(t, []string{"invitation_accepted", "invitation_rejected"}, peers["alice"].types())
	accepted := peers["alice"].ofType(MessageTypeInvitationAccepted)[0]
	assert.Equal(t, float64(2), accepted["user_id"])
	assert.Equal(t, float64(1), accepted["inviter_id"])
	assert.Nil(t, accepted["channel"])
	assert.Empty(t, peers["bob"].ofType(MessageTypeInvitationAccepted), "channel members are not told")
}

func TestForwardDMCreated(t *testing.T) {
	h, peers := forwardFixture(t)

	publish(t, h, "laravel-database-dm.created", `{"dm_id":3,"channel_id":40,"participant1_id":1,"participant2_id":3,"created_at":"now"}`)

	for _, id := range []string{"alice", "carol"} {
		dm := peers[id].ofType(MessageTypeDMCreated)
		require.Len(t, dm, 1, id)
		assert.Equal(t, float64(40), dm[0]["channel_id"])
		assert.Equal(t, float64(3), dm[0]["participant2_id"])
	}
	assert.Empty(t, peers["bob"].messages())
}

func TestForwardParseErrorsAreIsolated(t *testing.T) {
	h, peers := forwardFixture(t)

	for _, tc := range []struct {
		topic   string
		payload string
		kind    bus.Kind
	}{
		{"channel.user.joined", "not json", bus.KindUserJoined},
		{"channel.user.left", `["array"]`, bus.KindUserLeft},
		{"channel.user.joined", `{"user_id":1}`, bus.KindUserJoined},
		{"invitation.created", `{"id":1}`, bus.KindInvitationCreated},
		{"invitation.accepted", `{"channel_id":5}`, bus.KindInvitationAccepted},
		{"dm.created", `{"dm_id":1}`, bus.KindDMCreated},
	} {
		var (
			kind bus.Kind
			err  error
		)
		require.NoError(t, h.call(func() {
			kind, err = h.forwarder.Forward(bus.Event{Topic: tc.topic, Payload: tc.payload})
		}))
		assert.ErrorIs(t, err, ErrInvalidPayload, tc.topic)
		assert.Equal(t, tc.kind, kind)
	}

	for _, p := range peers {
		assert.Empty(t, p.messages())
	}

	publish(t, h, "channel.user.joined", "{{{")
	publish(t, h, "channel.5", `{"text":"still flowing"}`)
	assert.Len(t, peers["alice"].ofType(MessageTypeRedisMessage), 1)
	assert.Len(t, peers["bob"].ofType(MessageTypeRedisMessage), 1)
}

func TestForwardOrderIsPreserved(t *testing.T) {
	h, peers := forwardFixture(t)

	for _, payload := range []string{"1", "2", "3", "4"} {
		h.Events() <- bus.Event{Topic: "channel.5", Payload: payload}
	}
	require.Eventually(t, func() bool {
		return len(peers["bob"].ofType(MessageTypeRedisMessage)) == 4
	}, time.Second, 5*time.Millisecond)

	var got []string
	for _, m := range peers["bob"].ofType(MessageTypeRedisMessage) {
		got = append(got, m["message"].(string))
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, got)
}
