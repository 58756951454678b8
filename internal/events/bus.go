package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aocr/internal/logging"
	"aocr/internal/metrics"
)

// Handler observes one event. Errors are logged and counted, never returned
// to the publisher.
type Handler func(ctx context.Context, evt Event) error

type subscription struct {
	name    string
	types   map[Type]struct{}
	handler Handler
}

func (s subscription) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus delivers events to subscribers on their own goroutines so that a slow
// observer never holds up the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *zap.Logger
	stats  *metrics.Metrics

	// closed is guarded by mu so that no wg.Add races Close's wg.Wait.
	wg     sync.WaitGroup
	closed bool
}

type Option func(*Bus)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.stats = m }
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrNop(b.logger)
	return b
}

// Subscribe registers handler under name for the given types, or for all
// types when none are listed.
func (b *Bus) Subscribe(name string, handler Handler, types ...Type) {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	b.mu.Lock()
	b.subs = append(b.subs, subscription{name: name, types: set, handler: handler})
	b.mu.Unlock()
	b.logger.Debug("observer registered", zap.String("observer", name), zap.Int("types", len(types)))
}

// Publish hands evt to every interested subscriber and returns immediately.
// The caller's cancellation does not reach the observers.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	ctx = context.WithoutCancel(ctx)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Warn("event dropped, bus closed", zap.String("type", string(evt.Type)), zap.Int64("request_id", evt.RequestID))
		return
	}
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(evt.Type) {
			subs = append(subs, s)
		}
	}
	b.wg.Add(len(subs))
	b.mu.RUnlock()

	for _, s := range subs {
		go func(s subscription) {
			defer b.wg.Done()
			if err := b.deliver(ctx, s, evt); err != nil {
				b.stats.ObserverFailed(s.name)
				b.logger.Error("observer failed",
					zap.String("observer", s.name),
					zap.String("type", string(evt.Type)),
					zap.String("event_id", evt.ID),
					zap.Int64("request_id", evt.RequestID),
					zap.Error(err),
				)
			}
		}(s)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return s.handler(ctx, evt)
}

// Close stops accepting events and waits for in-flight deliveries.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus already closed")
	}
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
