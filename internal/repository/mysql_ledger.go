package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/qurbani/slot-allocation/internal/model"
)

// LedgerRepo provides access to the share_limits table: one row per tier
// holding the configured cap and the shares already participated.
type LedgerRepo struct {
	db *sql.DB
}

// NewLedgerRepo returns a LedgerRepo bound to db.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

// ensureTx inserts the default row for a tier unless it already exists.
func (r *LedgerRepo) ensureTx(ctx context.Context, tx *sql.Tx, q model.Quality, defaultMax int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO share_limits (quality, max_shares, participated) VALUES (?, ?, 0)`,
		string(q), defaultMax)
	return err
}

// ListTx returns the rows of all tiers in display order.  Missing tiers are
// created with defaultMax when create is set and only reported otherwise.
func (r *LedgerRepo) ListTx(ctx context.Context, tx *sql.Tx, defaultMax int, create bool) ([]model.TierLimit, error) {
	if create {
		for _, q := range model.Qualities {
			if err := r.ensureTx(ctx, tx, q, defaultMax); err != nil {
				return nil, err
			}
		}
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT quality, max_shares, participated FROM share_limits
		 ORDER BY FIELD(quality, 'Standard', 'Medium', 'Premium')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[model.Quality]model.TierLimit{}
	for rows.Next() {
		var t model.TierLimit
		var q string
		if err := rows.Scan(&q, &t.Max, &t.Participated); err != nil {
			return nil, err
		}
		t.Quality = model.Quality(q)
		found[t.Quality] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return withDefaults(found, defaultMax), nil
}

// LockTx reads one tier row with SELECT ... FOR UPDATE so that concurrent
// reservations on the same tier queue behind each other until commit.
func (r *LedgerRepo) LockTx(ctx context.Context, tx *sql.Tx, q model.Quality, defaultMax int) (model.TierLimit, error) {
	if err := r.ensureTx(ctx, tx, q, defaultMax); err != nil {
		return model.TierLimit{}, err
	}
	t := model.TierLimit{Quality: q}
	err := tx.QueryRowContext(ctx,
		`SELECT max_shares, participated FROM share_limits WHERE quality = ? FOR UPDATE`,
		string(q)).Scan(&t.Max, &t.Participated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TierLimit{}, ErrNotFound
	}
	return t, err
}

// SaveTx writes back a row previously read with LockTx.
func (r *LedgerRepo) SaveTx(ctx context.Context, tx *sql.Tx, t model.TierLimit) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE share_limits SET max_shares = ?, participated = ?, updated_at = UTC_TIMESTAMP(6) WHERE quality = ?`,
		t.Max, t.Participated, string(t.Quality))
	return err
}

func (t *mysqlTx) TierLimits(ctx context.Context, defaultMax int) ([]model.TierLimit, error) {
	return t.s.Ledger.ListTx(ctx, t.tx, defaultMax, t.lock)
}

func (t *mysqlTx) LockTier(ctx context.Context, q model.Quality, defaultMax int) (model.TierLimit, error) {
	return t.s.Ledger.LockTx(ctx, t.tx, q, defaultMax)
}

func (t *mysqlTx) SaveTier(ctx context.Context, lim model.TierLimit) error {
	return t.s.Ledger.SaveTx(ctx, t.tx, lim)
}
