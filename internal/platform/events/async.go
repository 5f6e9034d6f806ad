package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull       = errors.New("event queue full")
	ErrPublisherClosed = errors.New("event publisher closed")
)

// AsyncPublisher queues events and hands them to the next sink from a single
// worker, so Publish returns at once and per-key order is kept. Each delivery
// gets its own deadline.
type AsyncPublisher struct {
	next    Publisher
	queue   chan Event
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncPublisher(next Publisher, buffer int, timeout time.Duration, logger zerolog.Logger) *AsyncPublisher {
	a := &AsyncPublisher{
		next:    next,
		queue:   make(chan Event, buffer),
		timeout: timeout,
		logger:  logger.With().Str("component", "events").Logger(),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues evt. It fails with ErrQueueFull instead of blocking when
// the sink has fallen behind by the whole buffer.
func (a *AsyncPublisher) Publish(_ context.Context, evt Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrPublisherClosed
	}
	select {
	case a.queue <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *AsyncPublisher) run() {
	defer close(a.done)
	for evt := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, evt); err != nil {
			a.logger.Error().Err(err).
				Str("event_id", evt.ID).
				Str("event_type", evt.Type).
				Str("key", evt.Key).
				Msg("event delivery failed")
		}
		cancel()
	}
}

// Close stops accepting events, delivers everything already queued and then
// closes the next sink.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
