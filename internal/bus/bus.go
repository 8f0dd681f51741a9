// Package bus consumes backend change events from the publish/subscribe
// bus and classifies them by topic.
package bus

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Event is one message received from the bus. It is never persisted.
type Event struct {
	Topic      string
	Payload    string
	ReceivedAt time.Time
}

// Subscriber delivers bus events in arrival order until ctx is cancelled.
// Implementations retry broken subscriptions forever; Consume only returns
// once ctx is done.
type Subscriber interface {
	Name() string
	Consume(ctx context.Context, out chan<- Event) error
}

const (
	retryInitialInterval = 50 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
)

func newRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleep waits for the next backoff interval. It returns ctx.Err() if the
// context ends first.
func sleep(ctx context.Context, b backoff.BackOff) error {
	d := b.NextBackOff()
	if d == backoff.Stop {
		d = retryMaxInterval
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func deliver(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
