// Package service implements the slot allocation core: the share ledger, the
// allocation engine, the administrative slot editor, the payment state
// machine and the completion tracker.  Every mutating operation runs in a
// single store transaction and publishes its notifications only after that
// transaction has committed.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/queue"
	"github.com/qurbani/slot-allocation/internal/realtime"
	"github.com/qurbani/slot-allocation/internal/repository"
)

// CompletionPublisher hands completion messages to downstream consumers.
type CompletionPublisher interface {
	PublishCompleted(ctx context.Context, msgs []queue.SlotCompletedMessage) error
}

// Options configure the services.
type Options struct {
	// DefaultTierMax seeds ledger rows that do not exist yet.
	DefaultTierMax int
	// Prices is the per-share price of each tier.
	Prices map[model.Quality]decimal.Decimal
	// ReleaseOnRemoval returns shares to the ledger when a participation is
	// rejected or loses members.
	ReleaseOnRemoval bool
	// Publisher receives completion messages; nil disables them.
	Publisher CompletionPublisher
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Services bundles the components sharing one store and notifier.
type Services struct {
	Ledger         *Ledger
	Allocator      *Allocator
	Participations *Participations
	Editor         *Editor
	Completions    *CompletionTracker
}

// New wires every component around store and notifier.
func New(store repository.Store, notifier realtime.Notifier, opts Options) *Services {
	if notifier == nil {
		notifier = realtime.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.DefaultTierMax <= 0 {
		opts.DefaultTierMax = model.SlotCapacity
	}
	r := &runner{store: store, notifier: notifier, opts: opts}
	ledger := &Ledger{r: r}
	alloc := &Allocator{r: r, ledger: ledger}
	return &Services{
		Ledger:         ledger,
		Allocator:      alloc,
		Participations: &Participations{r: r, ledger: ledger, alloc: alloc},
		Editor:         &Editor{r: r, ledger: ledger},
		Completions:    &CompletionTracker{r: r},
	}
}

// runner owns the transaction boundary shared by every component.
type runner struct {
	store    repository.Store
	notifier realtime.Notifier
	opts     Options
}

// txn is the state one transaction attempt works with.
type txn struct {
	tx    repository.Tx
	ch    *changes
	now   time.Time
	newID func() string
}

// maxAttempts bounds how often a transaction that lost a race to another
// one (repository.ErrConflict) is replayed.
const maxAttempts = 3

// run executes fn in one read-write transaction.  A transaction failing with
// repository.ErrConflict is replayed from scratch against the fresh state, so
// fn must rebuild everything it returns on each call.  Events are handed to
// the notifier only after a successful commit.
func (r *runner) run(ctx context.Context, fn func(ctx context.Context, t *txn) error) error {
	for attempt := 1; ; attempt++ {
		var ch *changes
		err := r.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			now := r.opts.Now()
			ch = newChanges(now)
			return fn(ctx, &txn{tx: tx, ch: ch, now: now, newID: r.opts.NewID})
		})
		if err == nil {
			if evs := ch.events(); len(evs) > 0 {
				r.notifier.Notify(ctx, evs)
			}
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) || attempt == maxAttempts || ctx.Err() != nil {
			return translate(err)
		}
		r.opts.Logger.Debug("transaction conflict, retrying", "attempt", attempt, "err", err)
	}
}

// view executes fn in a read-only transaction.  fn must not write.
func (r *runner) view(ctx context.Context, fn func(ctx context.Context, t *txn) error) error {
	err := r.store.View(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := r.opts.Now()
		return fn(ctx, &txn{tx: tx, ch: newChanges(now), now: now, newID: r.opts.NewID})
	})
	return translate(err)
}
