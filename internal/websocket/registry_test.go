package websocket

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(ids ...string) *Registry {
	r := NewRegistry()
	for _, id := range ids {
		r.Register(id, &fakePeer{}, testNow)
	}
	return r
}

func TestRegistryLifecycle(t *testing.T) {
	r := newTestRegistry("a", "b")
	assert.Equal(t, 2, r.Len())
	assert.Zero(t, r.AuthenticatedLen())

	require.NoError(t, r.SetIdentity("a", "1", "alice"))
	conn, ok := r.Get("a")
	require.True(t, ok)
	assert.True(t, conn.Authenticated())
	assert.Equal(t, UserID("1"), conn.UserID())
	assert.Equal(t, 1, r.AuthenticatedLen())

	t.Run("re-authentication overwrites in place", func(t *testing.T) {
		require.NoError(t, r.SetIdentity("a", "9", "alice2"))
		assert.Equal(t, 2, r.Len())
		assert.Equal(t, 1, r.AuthenticatedLen())
		assert.Equal(t, UserID("9"), conn.UserID())
		assert.Equal(t, "alice2", conn.Username())
	})

	t.Run("duplicate register keeps the entry", func(t *testing.T) {
		again := r.Register("a", &fakePeer{}, testNow)
		assert.Same(t, conn, again)
		assert.Equal(t, 2, r.Len())
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		removed, ok := r.Remove("a")
		require.True(t, ok)
		assert.Same(t, conn, removed)
		_, ok = r.Remove("a")
		assert.False(t, ok)
		assert.Equal(t, 1, r.Len())
		assert.Zero(t, r.AuthenticatedLen())
	})

	t.Run("operations on unknown ids fail", func(t *testing.T) {
		assert.ErrorIs(t, r.SetIdentity("zz", "1", "x"), ErrConnectionNotFound)
		_, err := r.SetSubscribedChannel("zz", "5")
		assert.ErrorIs(t, err, ErrConnectionNotFound)
		assert.ErrorIs(t, r.AddNotificationChannels("zz", nil), ErrConnectionNotFound)
		assert.ErrorIs(t, r.ClearNotificationChannels("zz"), ErrConnectionNotFound)
	})
}

func TestRegistryForEachOrder(t *testing.T) {
	r := newTestRegistry("c1", "c2", "c3", "c4")
	r.Remove("c2")

	var seen []string
	r.ForEach(nil, func(c *Connection) { seen = append(seen, c.ID()) })
	assert.Equal(t, []string{"c1", "c3", "c4"}, seen)

	selected := r.Select(func(c *Connection) bool { return c.ID() != "c3" })
	require.Len(t, selected, 2)
	assert.Equal(t, "c4", selected[1].ID())
}

func TestSingleSubscriptionInvariant(t *testing.T) {
	r := newTestRegistry("a", "b", "c")
	s := NewSubscriptionRouter(r)
	rng := rand.New(rand.NewSource(1))

	last := map[string]ChannelID{}
	ids := []string{"a", "b", "c"}
	for i := 0; i < 500; i++ {
		id := ids[rng.Intn(len(ids))]
		if rng.Intn(5) == 0 {
			_, err := s.Unsubscribe(id)
			require.NoError(t, err)
			last[id] = ""
			continue
		}
		ch := ChannelID(fmt.Sprint(rng.Intn(6)))
		_, err := s.Subscribe(id, ch)
		require.NoError(t, err)
		last[id] = ch
	}

	for _, id := range ids {
		conn, _ := r.Get(id)
		got, ok := conn.SubscribedChannel()
		assert.Equal(t, last[id], got)
		assert.Equal(t, last[id] != "", ok)

		count := 0
		for ch := 0; ch < 6; ch++ {
			for _, c := range s.Subscribers(ChannelID(fmt.Sprint(ch))) {
				if c.ID() == id {
					count++
				}
			}
		}
		assert.LessOrEqual(t, count, 1, "connection %s subscribed to more than one channel", id)
	}
}

func TestSubscribeReturnsPrevious(t *testing.T) {
	r := newTestRegistry("a")
	s := NewSubscriptionRouter(r)

	prev, err := s.Subscribe("a", "1")
	require.NoError(t, err)
	assert.Empty(t, prev)

	prev, _ = s.Subscribe("a", "2")
	assert.Equal(t, ChannelID("1"), prev)

	prev, _ = s.Unsubscribe("a")
	assert.Equal(t, ChannelID("2"), prev)

	prev, _ = s.Unsubscribe("a")
	assert.Empty(t, prev)
}

func TestNotificationChannels(t *testing.T) {
	r := newTestRegistry("a")
	s := NewSubscriptionRouter(r)
	conn, _ := r.Get("a")

	require.NoError(t, s.SubscribeNotifications("a", []ChannelID{"3", "1", "3", ""}))
	assert.Equal(t, []ChannelID{"1", "3"}, conn.NotificationChannels())

	t.Run("replaced wholesale", func(t *testing.T) {
		require.NoError(t, s.SubscribeNotifications("a", []ChannelID{"7"}))
		assert.Equal(t, []ChannelID{"7"}, conn.NotificationChannels())
	})

	t.Run("independent of the open channel", func(t *testing.T) {
		_, _ = s.Subscribe("a", "7")
		assert.True(t, conn.WantsNotifications("7"))
		_, _ = s.Unsubscribe("a")
		assert.True(t, conn.WantsNotifications("7"))
	})

	require.NoError(t, s.UnsubscribeNotifications("a"))
	assert.Empty(t, conn.NotificationChannels())
}

func TestMatchingForChannelActivity(t *testing.T) {
	r := newTestRegistry("sub", "notif", "both", "other", "idle")
	s := NewSubscriptionRouter(r)

	s.Subscribe("sub", "5")
	s.SubscribeNotifications("notif", []ChannelID{"5", "6"})
	s.Subscribe("both", "5")
	s.SubscribeNotifications("both", []ChannelID{"5"})
	s.Subscribe("other", "6")

	full, notify := s.MatchingForChannelActivity("5")
	assert.Equal(t, []string{"sub", "both"}, connIDs(full))
	assert.Equal(t, []string{"notif"}, connIDs(notify))

	full, notify = s.MatchingForChannelActivity("6")
	assert.Equal(t, []string{"other"}, connIDs(full))
	assert.Equal(t, []string{"notif"}, connIDs(notify))

	full, notify = s.MatchingForChannelActivity("404")
	assert.Empty(t, full)
	assert.Empty(t, notify)
}

func TestPresenceIsDerived(t *testing.T) {
	r := newTestRegistry("a1", "a2", "b", "anon")
	s := NewSubscriptionRouter(r)
	p := NewPresenceTracker(r)

	r.SetIdentity("a1", "1", "alice")
	r.SetIdentity("a2", "1", "alice")
	r.SetIdentity("b", "2", "bob")
	s.Subscribe("a1", "5")
	s.Subscribe("b", "5")
	s.Subscribe("anon", "5")

	assert.Equal(t, []OnlineUser{{"1", "alice"}, {"2", "bob"}}, p.GlobalOnline(), "deduplicated by userId")
	assert.Equal(t, []OnlineUser{{"2", "bob"}}, p.GlobalOnlineExcept("1"))
	assert.Equal(t, []OnlineUser{{"1", "alice"}, {"2", "bob"}}, p.ChannelOnline("5"), "anonymous connections excluded")

	r.Remove("b")
	assert.Equal(t, []OnlineUser{{"1", "alice"}}, p.ChannelOnline("5"))

	r.Remove("a1")
	assert.Equal(t, []OnlineUser{}, p.ChannelOnline("5"))
	assert.Equal(t, []OnlineUser{{"1", "alice"}}, p.GlobalOnline(), "second connection keeps the user online")
}

func TestChannelOnlineMatchesRegistryScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := NewRegistry()
	s := NewSubscriptionRouter(r)
	p := NewPresenceTracker(r)

	for i := 0; i < 300; i++ {
		id := fmt.Sprintf("c%d", rng.Intn(20))
		switch rng.Intn(4) {
		case 0:
			r.Register(id, &fakePeer{}, testNow)
		case 1:
			r.SetIdentity(id, UserID(fmt.Sprint(rng.Intn(8))), "u")
		case 2:
			s.Subscribe(id, ChannelID(fmt.Sprint(rng.Intn(3))))
		case 3:
			r.Remove(id)
		}

		for ch := 0; ch < 3; ch++ {
			channel := ChannelID(fmt.Sprint(ch))
			want := map[UserID]bool{}
			r.ForEach(nil, func(c *Connection) {
				if c.Authenticated() && c.subscribedChannel == channel {
					want[c.UserID()] = true
				}
			})
			got := map[UserID]bool{}
			for _, u := range p.ChannelOnline(channel) {
				got[u.UserID] = true
			}
			require.Equal(t, want, got, "step %d channel %s", i, channel)
		}
	}
}

func TestLivenessSweep(t *testing.T) {
	r := NewRegistry()
	alive := &fakePeer{}
	silent := &fakePeer{}
	r.Register("alive", alive, testNow)
	r.Register("silent", silent, testNow)
	l := NewLivenessMonitor(r)

	assert.Empty(t, l.Sweep(), "everyone answered the implicit first probe")
	assert.Equal(t, 1, alive.probeCount())
	assert.Equal(t, 1, silent.probeCount())

	l.MarkAlive("alive")
	dead := l.Sweep()
	assert.Equal(t, []string{"silent"}, connIDs(dead))
	assert.Equal(t, 2, alive.probeCount())
	assert.Equal(t, 1, silent.probeCount(), "dead connections are not probed again")

	l.MarkAlive("gone")
}

func connIDs(conns []*Connection) []string {
	var out []string
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}
