package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/observability/metrics"
	"go.uber.org/zap"
)

const DefaultQueueSize = 1024

// Publisher hands events to the broadcaster. Publish never blocks on
// delivery and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// ConsumerFunc is an in-process subscriber invoked for every delivered event.
type ConsumerFunc func(ctx context.Context, evt Event)

// Transport carries events between instances. Received events must be
// passed back through the handler given to Listen.
type Transport interface {
	Send(ctx context.Context, evt Event) error
	Listen(ctx context.Context, handle func(Event)) error
}

type BusConfig struct {
	QueueSize int
}

// Bus is the single event pipeline: a bounded queue drained by one worker,
// which fans out to the hub and to registered consumers.
type Bus struct {
	log       *zap.Logger
	metrics   *metrics.Metrics
	clock     clock.Clock
	hub       *Hub
	transport Transport
	queue     chan Event

	mu        sync.RWMutex
	consumers []namedConsumer

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type namedConsumer struct {
	name string
	fn   ConsumerFunc
}

func NewBus(cfg BusConfig, hub *Hub, transport Transport, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *Bus {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	b := &Bus{
		log:       log.Named("realtime.bus"),
		metrics:   m,
		clock:     clk,
		hub:       hub,
		transport: transport,
		queue:     make(chan Event, size),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	hub.OnDrop(func(evt Event, subscriber uint64) {
		b.log.Warn("subscriber buffer full, event dropped",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.Uint64("subscriber", subscriber),
		)
		b.metrics.RecordEventDropped(context.Background(), string(evt.Type), "subscriber_full")
	})
	return b
}

// Consume registers an in-process consumer. Consumers run on the bus worker
// and must not block.
func (b *Bus) Consume(name string, fn ConsumerFunc) {
	b.mu.Lock()
	b.consumers = append(b.consumers, namedConsumer{name: name, fn: fn})
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, evt Event) {
	if b == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = ulid.Make().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = b.clock.Now().UTC()
	}
	select {
	case b.queue <- evt:
		b.metrics.RecordEventPublished(ctx, string(evt.Type))
	default:
		b.log.Warn("event queue full, event dropped",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.String("entity_id", evt.EntityID),
		)
		b.metrics.RecordEventDropped(ctx, string(evt.Type), "queue_full")
	}
}

// Start launches the worker and, with a transport, the inbound listener.
func (b *Bus) Start(ctx context.Context) {
	go b.run()
	if b.transport != nil {
		go func() {
			if err := b.transport.Listen(ctx, b.deliver); err != nil && ctx.Err() == nil {
				b.log.Error("realtime transport listener stopped", zap.Error(err))
			}
		}()
	}
}

// Stop drains queued events and waits for the worker to exit.
func (b *Bus) Stop(ctx context.Context) error {
	b.once.Do(func() { close(b.stop) })
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case evt := <-b.queue:
			b.dispatch(evt)
		case <-b.stop:
			for {
				select {
				case evt := <-b.queue:
					b.dispatch(evt)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(evt Event) {
	if b.transport == nil {
		b.deliver(evt)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.transport.Send(ctx, evt); err != nil {
		b.log.Warn("transport send failed, delivering locally",
			zap.String("event_id", evt.ID),
			zap.Error(err),
		)
		b.deliver(evt)
	}
}

func (b *Bus) deliver(evt Event) {
	reached := b.hub.Deliver(evt)
	b.log.Debug("event delivered",
		zap.String("event_id", evt.ID),
		zap.String("event_type", string(evt.Type)),
		zap.String("name", evt.Name),
		zap.Int("subscribers", reached),
	)

	b.mu.RLock()
	consumers := append([]namedConsumer(nil), b.consumers...)
	b.mu.RUnlock()
	for _, c := range consumers {
		b.runConsumer(c, evt)
	}
}

func (b *Bus) runConsumer(c namedConsumer, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event consumer panicked",
				zap.String("consumer", c.name),
				zap.String("event_id", evt.ID),
				zap.Any("panic", r),
			)
		}
	}()
	c.fn(context.Background(), evt)
}
