package service

import (
	"context"

	"github.com/qurbani/slot-allocation/internal/model"
)

// Ledger is the global per-tier record of the configured cap and the shares
// already taken.  The only writers of Participated are reserve and release;
// both run inside the caller's transaction with the tier row locked, so two
// concurrent reservations on one tier serialise on that row.
type Ledger struct {
	r *runner
}

// Limits returns the ledger.  Tiers without a row report the default cap.
func (l *Ledger) Limits(ctx context.Context) (model.ShareLedger, error) {
	out := model.ShareLedger{Tiers: map[model.Quality]model.TierLimit{}}
	err := l.r.view(ctx, func(ctx context.Context, t *txn) error {
		rows, err := t.tx.TierLimits(ctx, l.r.opts.DefaultTierMax)
		if err != nil {
			return err
		}
		for _, row := range rows {
			out.Tiers[row.Quality] = row
		}
		return nil
	})
	return out, err
}

// SetLimit changes the cap of one tier.  The cap cannot drop below what is
// already participated.
func (l *Ledger) SetLimit(ctx context.Context, q model.Quality, max int) (model.TierLimit, error) {
	if !q.Valid() {
		return model.TierLimit{}, validationError("unknown quality %q", q)
	}
	if max < 0 {
		return model.TierLimit{}, validationError("max shares must not be negative")
	}
	var out model.TierLimit
	err := l.r.run(ctx, func(ctx context.Context, t *txn) error {
		lim, err := t.tx.LockTier(ctx, q, l.r.opts.DefaultTierMax)
		if err != nil {
			return err
		}
		if max < lim.Participated {
			return validationError("cannot set %s max to %d: %d shares already participated", q, max, lim.Participated)
		}
		lim.Max = max
		if err := t.tx.SaveTier(ctx, lim); err != nil {
			return err
		}
		t.ch.tier(lim)
		out = lim
		return nil
	})
	return out, err
}

// reserve takes shares from a tier.  It fails with a capacity error when the
// tier is closed or has fewer shares left than requested.
func (l *Ledger) reserve(ctx context.Context, t *txn, q model.Quality, shares int) error {
	lim, err := t.tx.LockTier(ctx, q, l.r.opts.DefaultTierMax)
	if err != nil {
		return err
	}
	remaining := lim.Remaining()
	if remaining <= 0 {
		return capacityError("the %s tier is closed", q)
	}
	if shares > remaining {
		return capacityError("only %d %s shares remaining", remaining, q)
	}
	lim.Participated += shares
	if err := t.tx.SaveTier(ctx, lim); err != nil {
		return err
	}
	t.ch.tier(lim)
	return nil
}

// release gives shares back to a tier.
func (l *Ledger) release(ctx context.Context, t *txn, q model.Quality, shares int) error {
	lim, err := t.tx.LockTier(ctx, q, l.r.opts.DefaultTierMax)
	if err != nil {
		return err
	}
	lim.Participated -= shares
	if lim.Participated < 0 {
		lim.Participated = 0
	}
	if err := t.tx.SaveTier(ctx, lim); err != nil {
		return err
	}
	t.ch.tier(lim)
	return nil
}

// verify re-reads the tier row during allocation.  A participation already
// counted in the ledger is consistent as long as the tier is not over its cap.
func (l *Ledger) verify(ctx context.Context, t *txn, q model.Quality) error {
	lim, err := t.tx.LockTier(ctx, q, l.r.opts.DefaultTierMax)
	if err != nil {
		return err
	}
	if lim.Participated > lim.Max {
		return capacityError("the %s tier is over its cap (%d of %d)", q, lim.Participated, lim.Max)
	}
	return nil
}
