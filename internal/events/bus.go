// File: internal/events/bus.go
package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// AllRuns subscribes to every run.
const AllRuns = ""

// Bus is an in-process pub/sub sink keyed by run id.
type Bus struct {
	logger *zap.Logger

	// Subscribers per run id; AllRuns receives everything.
	subscribers map[string][]chan schemas.Event
	mu          sync.RWMutex
	bufferSize  int

	// activePosts tracks Publish calls still delivering.
	activePosts sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

var _ schemas.EventSink = (*Bus)(nil)

// NewBus creates a bus whose subscriber channels hold bufferSize events.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:       logger.Named("event_bus"),
		subscribers:  make(map[string][]chan schemas.Event),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Publish delivers ev to the subscribers of its run and to AllRuns
// subscribers. It blocks while a subscriber buffer is full, until ctx is done.
func (b *Bus) Publish(ctx context.Context, ev schemas.Event) error {
	// 1. Check shutdown state and register the delivery.
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return fmt.Errorf("cannot publish event: bus is shut down")
	}
	b.activePosts.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePosts.Done()

	// 2. Snapshot recipients so the lock is not held during sends.
	b.mu.RLock()
	targets := make([]chan schemas.Event, 0, len(b.subscribers[ev.RunID])+len(b.subscribers[AllRuns]))
	targets = append(targets, b.subscribers[ev.RunID]...)
	if ev.RunID != AllRuns {
		targets = append(targets, b.subscribers[AllRuns]...)
	}
	b.mu.RUnlock()

	// 3. Deliver. A subscriber with room always gets the event, even when
	// ctx is already done.
	for _, ch := range targets {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.shutdownChan:
			return fmt.Errorf("failed to publish event: bus is shutting down")
		}
	}
	return nil
}

// Subscribe returns a channel receiving the events of runID (or of all runs
// for AllRuns) and a function that stops delivery. The channel is closed on
// Shutdown.
func (b *Bus) Subscribe(runID string) (<-chan schemas.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.shutdownMu.Lock()
	shut := b.isShutdown
	b.shutdownMu.Unlock()
	if shut {
		closed := make(chan schemas.Event)
		close(closed)
		return closed, func() {}
	}

	ch := make(chan schemas.Event, b.bufferSize)
	b.subscribers[runID] = append(b.subscribers[runID], ch)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[runID]
		for i, sub := range subs {
			if sub == ch {
				copy(subs[i:], subs[i+1:])
				b.subscribers[runID] = subs[:len(subs)-1]
				break
			}
		}
		if len(b.subscribers[runID]) == 0 {
			delete(b.subscribers, runID)
		}
		// The channel is left open; Shutdown owns closing.
	}
	return ch, unsubscribe
}

// Shutdown stops the bus, waits for in-flight publishes and closes every
// subscriber channel.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.logger.Debug("Shutting down event bus.")

		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activePosts.Wait()

		b.mu.Lock()
		defer b.mu.Unlock()
		for runID, subs := range b.subscribers {
			for _, ch := range subs {
				close(ch)
			}
			delete(b.subscribers, runID)
		}
	})
}
