package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/qurbani/slot-allocation/internal/model"
)

// CompletionRepo provides access to user_completions.  The unique key on
// (user_id, slot_id) guarantees one record per user and slot even when two
// admins complete the same slot at once.
type CompletionRepo struct {
	db *sql.DB
}

// NewCompletionRepo returns a CompletionRepo bound to db.
func NewCompletionRepo(db *sql.DB) *CompletionRepo { return &CompletionRepo{db: db} }

// ExistsTx reports whether userID already has a record for slotID.
func (r *CompletionRepo) ExistsTx(ctx context.Context, tx *sql.Tx, userID, slotID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_completions WHERE user_id = ? AND slot_id = ?`, userID, slotID).Scan(&n)
	return n > 0, err
}

// CreateTx inserts a completion record.
func (r *CompletionRepo) CreateTx(ctx context.Context, tx *sql.Tx, c *model.CompletionRecord) error {
	ids, err := json.Marshal(c.ParticipationIDs)
	if err != nil {
		return err
	}
	names, err := json.Marshal(c.Names)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO user_completions
			(id, user_id, slot_id, day, time_slot, participation_ids, collector_name, names, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.SlotID, c.Day, c.TimeSlot, ids, c.CollectorName, names, c.Message, c.CreatedAt)
	return translateMySQL(err)
}

// ListByUserTx returns a user's completion records, oldest first.
func (r *CompletionRepo) ListByUserTx(ctx context.Context, tx *sql.Tx, userID string) ([]*model.CompletionRecord, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, user_id, slot_id, day, time_slot, participation_ids,
			collector_name, names, message, created_at
		FROM user_completions WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.CompletionRecord, 0)
	for rows.Next() {
		var (
			c     model.CompletionRecord
			ids   []byte
			names []byte
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.SlotID, &c.Day, &c.TimeSlot, &ids, &c.CollectorName,
			&names, &c.Message, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(ids, &c.ParticipationIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(names, &c.Names); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (t *mysqlTx) HasCompletion(ctx context.Context, userID, slotID string) (bool, error) {
	return t.s.Completions.ExistsTx(ctx, t.tx, userID, slotID)
}

func (t *mysqlTx) CreateCompletion(ctx context.Context, c *model.CompletionRecord) error {
	return t.s.Completions.CreateTx(ctx, t.tx, c)
}

func (t *mysqlTx) ListCompletions(ctx context.Context, userID string) ([]*model.CompletionRecord, error) {
	return t.s.Completions.ListByUserTx(ctx, t.tx, userID)
}
