package repository

import (
	"context"

	"github.com/qurbani/slot-allocation/internal/model"
)

// Store opens transactions.  Every read-modify-write of the ledger, slots or
// participations goes through WithTx so that a failed step aborts all writes.
type Store interface {
	// WithTx runs fn inside one database transaction.  The transaction is
	// committed when fn returns nil and rolled back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn in a read-only transaction.  Reads take no locks, tiers
	// missing from the ledger are reported at their default without being
	// created, and writes fail with ErrReadOnly.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Close releases the underlying connections.
	Close(ctx context.Context) error
}

// Tx is the set of primitives available inside a transaction.  Inside WithTx,
// reads lock what they read where the backend supports it.
type Tx interface {
	// TierLimits returns every ledger row, creating missing tiers with
	// defaultMax.
	TierLimits(ctx context.Context, defaultMax int) ([]model.TierLimit, error)
	// LockTier reads and locks one ledger row, creating it with defaultMax
	// when it is missing.
	LockTier(ctx context.Context, q model.Quality, defaultMax int) (model.TierLimit, error)
	// SaveTier writes a ledger row read through LockTier.
	SaveTier(ctx context.Context, t model.TierLimit) error

	CreateParticipation(ctx context.Context, p *model.Participation) error
	GetParticipation(ctx context.Context, id string) (*model.Participation, error)
	UpdateParticipation(ctx context.Context, p *model.Participation) error
	DeleteParticipation(ctx context.Context, id string) error
	ListParticipations(ctx context.Context, f model.ParticipationFilter) ([]*model.Participation, error)

	GetSlot(ctx context.Context, id string) (*model.Slot, error)
	// SlotAt returns the slot occupying a window or ErrNotFound.
	SlotAt(ctx context.Context, day int, timeSlot string) (*model.Slot, error)
	// SlotsByDay returns every slot of a day; day 0 returns all slots.
	SlotsByDay(ctx context.Context, day int) ([]*model.Slot, error)
	SlotsByParticipation(ctx context.Context, participationID string) ([]*model.Slot, error)
	// LatestMergedSlot returns the slot with the most recent merge history.
	LatestMergedSlot(ctx context.Context) (*model.Slot, error)
	// CreateSlot inserts s with version 1.  A second slot in the same window
	// yields ErrConflict.
	CreateSlot(ctx context.Context, s *model.Slot) error
	// UpdateSlot writes s if its stored version still equals s.Version and
	// bumps the version; otherwise it returns ErrConflict.
	UpdateSlot(ctx context.Context, s *model.Slot) error
	DeleteSlot(ctx context.Context, id string) error

	HasCompletion(ctx context.Context, userID, slotID string) (bool, error)
	// CreateCompletion inserts a record; a duplicate (user, slot) pair yields
	// ErrConflict.
	CreateCompletion(ctx context.Context, c *model.CompletionRecord) error
	ListCompletions(ctx context.Context, userID string) ([]*model.CompletionRecord, error)
}

// withDefaults lists every tier in display order, reporting the ones missing
// from found at defaultMax.
func withDefaults(found map[model.Quality]model.TierLimit, defaultMax int) []model.TierLimit {
	out := make([]model.TierLimit, 0, len(model.Qualities))
	for _, q := range model.Qualities {
		lim, ok := found[q]
		if !ok {
			lim = model.TierLimit{Quality: q, Max: defaultMax}
		}
		out = append(out, lim)
	}
	return out
}
