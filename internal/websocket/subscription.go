package websocket

// SubscriptionRouter enforces one open channel per connection plus an
// independent notification set, and answers who receives channel activity.
type SubscriptionRouter struct {
	registry *Registry
}

func NewSubscriptionRouter(registry *Registry) *SubscriptionRouter {
	return &SubscriptionRouter{registry: registry}
}

// Subscribe opens ch for the connection, replacing any previous channel,
// which is returned.
func (s *SubscriptionRouter) Subscribe(id string, ch ChannelID) (ChannelID, error) {
	return s.registry.SetSubscribedChannel(id, ch)
}

func (s *SubscriptionRouter) Unsubscribe(id string) (ChannelID, error) {
	return s.registry.SetSubscribedChannel(id, "")
}

// SubscribeNotifications replaces the notification set wholesale.
func (s *SubscriptionRouter) SubscribeNotifications(id string, channels []ChannelID) error {
	if err := s.registry.ClearNotificationChannels(id); err != nil {
		return err
	}
	return s.registry.AddNotificationChannels(id, channels)
}

func (s *SubscriptionRouter) UnsubscribeNotifications(id string) error {
	return s.registry.ClearNotificationChannels(id)
}

// Subscribers returns the connections whose open channel is ch.
func (s *SubscriptionRouter) Subscribers(ch ChannelID) []*Connection {
	return s.registry.Select(func(c *Connection) bool {
		return c.subscribedChannel == ch
	})
}

// MatchingForChannelActivity splits the audience of an event on ch into
// full-payload recipients (subscribed to ch) and notification-only
// recipients (ch in their notification set but not open). The groups are
// disjoint.
func (s *SubscriptionRouter) MatchingForChannelActivity(ch ChannelID) (full, notify []*Connection) {
	s.registry.ForEach(nil, func(c *Connection) {
		switch {
		case c.subscribedChannel == ch:
			full = append(full, c)
		case c.WantsNotifications(ch):
			notify = append(notify, c)
		}
	})
	return full, notify
}
