package bus

import (
	"regexp"
	"strings"
)

// Kind is the category a bus topic is classified into.
type Kind string

const (
	KindChannelActivity    Kind = "channel_activity"
	KindUserJoined         Kind = "user_joined"
	KindUserLeft           Kind = "user_left"
	KindInvitationCreated  Kind = "invitation_created"
	KindInvitationAccepted Kind = "invitation_accepted"
	KindInvitationRejected Kind = "invitation_rejected"
	KindDMCreated          Kind = "dm_created"
)

func (k Kind) String() string { return string(k) }

// Classification is the result of classifying one topic.
type Classification struct {
	Kind Kind
	// Topic is the topic with any configured prefix removed.
	Topic string
	// ChannelID is only set for KindChannelActivity.
	ChannelID string
}

// DefaultPrefixes are stripped from topics when no prefixes are configured.
var DefaultPrefixes = []string{"laravel-database-"}

// topicSuffixes are checked in order against the cleaned topic.
var topicSuffixes = []struct {
	suffix string
	kind   Kind
}{
	{"channel.user.joined", KindUserJoined},
	{"channel.user.left", KindUserLeft},
	{"invitation.created", KindInvitationCreated},
	{"invitation.accepted", KindInvitationAccepted},
	{"invitation.rejected", KindInvitationRejected},
	{"dm.created", KindDMCreated},
}

var channelTopic = regexp.MustCompile(`channel\.(\d+)$`)

// Classifier maps raw bus topics to a Classification. It is a total
// function: every topic yields a result.
type Classifier struct {
	prefixes []string
}

func NewClassifier(prefixes []string) *Classifier {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	return &Classifier{prefixes: prefixes}
}

// Clean removes the first matching prefix from topic.
func (c *Classifier) Clean(topic string) string {
	for _, prefix := range c.prefixes {
		if strings.HasPrefix(topic, prefix) {
			return strings.TrimPrefix(topic, prefix)
		}
	}
	return topic
}

func (c *Classifier) Classify(topic string) Classification {
	cleaned := c.Clean(topic)

	for _, s := range topicSuffixes {
		if strings.HasSuffix(cleaned, s.suffix) {
			return Classification{Kind: s.kind, Topic: cleaned}
		}
	}

	return Classification{
		Kind:      KindChannelActivity,
		Topic:     cleaned,
		ChannelID: channelIDFromTopic(cleaned),
	}
}

// channelIDFromTopic prefers a numeric "channel.<id>" suffix, then the last
// segment after '.' or ':', then the whole topic.
func channelIDFromTopic(topic string) string {
	if m := channelTopic.FindStringSubmatch(topic); m != nil {
		return m[1]
	}
	if i := strings.LastIndexAny(topic, ".:"); i >= 0 && i < len(topic)-1 {
		return topic[i+1:]
	}
	return topic
}
