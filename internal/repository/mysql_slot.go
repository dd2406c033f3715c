package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/qurbani/slot-allocation/internal/model"
)

// SlotRepo provides access to the slots table.  A slot row is stored in a
// document shape: the participant allocations and the merge history are JSON
// columns owned by the row.  (day, time_slot) is unique so two transactions
// cannot open the same window twice; the version column backs optimistic
// updates.
type SlotRepo struct {
	db *sql.DB
}

// NewSlotRepo returns a SlotRepo bound to db.
func NewSlotRepo(db *sql.DB) *SlotRepo { return &SlotRepo{db: db} }

const slotColumns = `id, day, time_slot, quality, participants, completed, completed_at,
	merge_history, merged_at, version, created_at, updated_at`

func scanSlot(row rowScanner) (*model.Slot, error) {
	var (
		s            model.Slot
		quality      string
		participants []byte
		history      []byte
		completedAt  sql.NullTime
		mergedAt     sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.Day, &s.TimeSlot, &quality, &participants, &s.Completed, &completedAt,
		&history, &mergedAt, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Quality = model.Quality(quality)
	if err := json.Unmarshal(participants, &s.Participants); err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.MergeHistory); err != nil {
			return nil, err
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	if mergedAt.Valid {
		t := mergedAt.Time
		s.MergedAt = &t
	}
	return &s, nil
}

func querySlots(ctx context.Context, tx *sql.Tx, q string, args ...any) ([]*model.Slot, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Slot, 0)
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSlots(out)
	return out, nil
}

// slotDoc holds the JSON columns of a slot row.
type slotDoc struct {
	participants []byte
	ids          []byte
	history      []byte
}

func slotDocuments(s *model.Slot) (slotDoc, error) {
	var d slotDoc
	list := s.Participants
	if list == nil {
		list = []model.ParticipantAllocation{}
	}
	ids := make([]string, 0, len(list))
	for _, e := range list {
		ids = append(ids, e.ParticipationID)
	}
	var err error
	if d.participants, err = json.Marshal(list); err != nil {
		return slotDoc{}, err
	}
	if d.ids, err = json.Marshal(ids); err != nil {
		return slotDoc{}, err
	}
	if len(s.MergeHistory) > 0 {
		if d.history, err = json.Marshal(s.MergeHistory); err != nil {
			return slotDoc{}, err
		}
	}
	return d, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// GetTx loads one slot, locking it when lock is set.
func (r *SlotRepo) GetTx(ctx context.Context, tx *sql.Tx, id string, lock bool) (*model.Slot, error) {
	s, err := scanSlot(tx.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`+forUpdate(lock), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// AtTx loads the slot occupying a window, locking it when lock is set.
func (r *SlotRepo) AtTx(ctx context.Context, tx *sql.Tx, day int, timeSlot string, lock bool) (*model.Slot, error) {
	s, err := scanSlot(tx.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE day = ? AND time_slot = ?`+forUpdate(lock), day, timeSlot))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ByDayTx returns every slot of a day (all days when day is 0).  With lock
// set the rows are locked and, under InnoDB's default isolation, so are the
// gaps of the uq_slots_window range: two allocations for the same day cannot
// both claim a free window.
func (r *SlotRepo) ByDayTx(ctx context.Context, tx *sql.Tx, day int, lock bool) ([]*model.Slot, error) {
	if day == 0 {
		return querySlots(ctx, tx, `SELECT `+slotColumns+` FROM slots`+forUpdate(lock))
	}
	return querySlots(ctx, tx, `SELECT `+slotColumns+` FROM slots WHERE day = ?`+forUpdate(lock), day)
}

// ByParticipationTx returns the slots holding an allocation for a
// participation.  The lookup goes through the multi-valued index on
// participation_ids, so with lock set only the matching rows are locked.
func (r *SlotRepo) ByParticipationTx(ctx context.Context, tx *sql.Tx, participationID string, lock bool) ([]*model.Slot, error) {
	return querySlots(ctx, tx, `SELECT `+slotColumns+` FROM slots
		WHERE ? MEMBER OF (participation_ids->'$')`+forUpdate(lock), participationID)
}

// LatestMergedTx returns the slot whose merge history is the most recent.
func (r *SlotRepo) LatestMergedTx(ctx context.Context, tx *sql.Tx) (*model.Slot, error) {
	s, err := scanSlot(tx.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots
		WHERE merged_at IS NOT NULL AND merge_history IS NOT NULL
		ORDER BY merged_at DESC LIMIT 1 FOR UPDATE`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// CreateTx inserts s with version 1.  A duplicate window surfaces as a
// MySQL duplicate-key error which the store maps to ErrConflict.
func (r *SlotRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Slot) error {
	doc, err := slotDocuments(s)
	if err != nil {
		return err
	}
	s.Version = 1
	_, err = tx.ExecContext(ctx, `INSERT INTO slots (`+slotColumns+`, participation_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Day, s.TimeSlot, string(s.Quality), doc.participants, s.Completed, nullTime(s.CompletedAt),
		doc.history, nullTime(s.MergedAt), s.Version, s.CreatedAt, s.UpdatedAt, doc.ids)
	return translateMySQL(err)
}

// UpdateTx writes s when the stored version still matches s.Version and
// increments it.  A stale version yields ErrConflict.
func (r *SlotRepo) UpdateTx(ctx context.Context, tx *sql.Tx, s *model.Slot) error {
	doc, err := slotDocuments(s)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE slots SET
			day = ?, time_slot = ?, quality = ?, participants = ?, participation_ids = ?, completed = ?,
			completed_at = ?, merge_history = ?, merged_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		s.Day, s.TimeSlot, string(s.Quality), doc.participants, doc.ids, s.Completed, nullTime(s.CompletedAt),
		doc.history, nullTime(s.MergedAt), s.UpdatedAt, s.ID, s.Version)
	if err != nil {
		return translateMySQL(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM slots WHERE id = ?`, s.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}
	s.Version++
	return nil
}

// DeleteTx removes a slot.
func (r *SlotRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *mysqlTx) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	return t.s.Slots.GetTx(ctx, t.tx, id, t.lock)
}

func (t *mysqlTx) SlotAt(ctx context.Context, day int, timeSlot string) (*model.Slot, error) {
	return t.s.Slots.AtTx(ctx, t.tx, day, timeSlot, t.lock)
}

func (t *mysqlTx) SlotsByDay(ctx context.Context, day int) ([]*model.Slot, error) {
	return t.s.Slots.ByDayTx(ctx, t.tx, day, t.lock)
}

func (t *mysqlTx) SlotsByParticipation(ctx context.Context, participationID string) ([]*model.Slot, error) {
	return t.s.Slots.ByParticipationTx(ctx, t.tx, participationID, t.lock)
}

func (t *mysqlTx) LatestMergedSlot(ctx context.Context) (*model.Slot, error) {
	return t.s.Slots.LatestMergedTx(ctx, t.tx)
}

func (t *mysqlTx) CreateSlot(ctx context.Context, s *model.Slot) error {
	return t.s.Slots.CreateTx(ctx, t.tx, s)
}

func (t *mysqlTx) UpdateSlot(ctx context.Context, s *model.Slot) error {
	return t.s.Slots.UpdateTx(ctx, t.tx, s)
}

func (t *mysqlTx) DeleteSlot(ctx context.Context, id string) error {
	return t.s.Slots.DeleteTx(ctx, t.tx, id)
}
