package realtime

import (
	"context"
	"log/slog"
	"sync"
)

// Sink delivers one event somewhere: the local hub, a redis channel.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// Outbox decouples event delivery from the operation that produced the
// events.  Notify only enqueues; a single worker drains the queue into the
// sinks.  When the queue is full the batch is dropped and logged, since
// observers reconcile by polling anyway.
type Outbox struct {
	queue  chan []Event
	sinks  []Sink
	log    *slog.Logger
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// NewOutbox returns an outbox buffering up to size batches.
func NewOutbox(size int, log *slog.Logger, sinks ...Sink) *Outbox {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Outbox{
		queue:  make(chan []Event, size),
		sinks:  sinks,
		log:    log,
		closed: make(chan struct{}),
	}
}

// Start launches the delivery worker.  It stops once ctx is done or Close
// is called, after draining what is already queued.
func (o *Outbox) Start(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case batch := <-o.queue:
				o.deliver(ctx, batch)
			case <-ctx.Done():
				o.drain(context.WithoutCancel(ctx))
				return
			case <-o.closed:
				o.drain(ctx)
				return
			}
		}
	}()
}

func (o *Outbox) drain(ctx context.Context) {
	for {
		select {
		case batch := <-o.queue:
			o.deliver(ctx, batch)
		default:
			return
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, batch []Event) {
	for _, e := range batch {
		for _, s := range o.sinks {
			if err := s.Deliver(ctx, e); err != nil {
				o.log.Warn("realtime delivery failed", "event", e.Name, "room", e.Room, "error", err)
			}
		}
	}
}

// Notify implements Notifier.  It never blocks.
func (o *Outbox) Notify(_ context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	select {
	case <-o.closed:
		return
	default:
	}
	select {
	case o.queue <- events:
	default:
		o.log.Warn("realtime outbox full, dropping events", "count", len(events))
	}
}

// Close stops the worker after it has drained the queue.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.closed) })
	o.wg.Wait()
}
