package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/qurbani/slot-allocation/internal/model"
)

// ParticipationRepo provides CRUD operations for the participations table.
// Member names are stored as a JSON array; the primary slot reference is a
// nullable column.  All timestamps are UTC.
type ParticipationRepo struct {
	db *sql.DB
}

// NewParticipationRepo returns a ParticipationRepo bound to db.
func NewParticipationRepo(db *sql.DB) *ParticipationRepo { return &ParticipationRepo{db: db} }

const participationColumns = `id, user_id, collector_name, quality, day, shares, members, total_amount,
	payment_status, payment_proof, preferred_time_slot, slot_id, time_slot, slot_assigned, reserved,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipation(row rowScanner) (*model.Participation, error) {
	var (
		p         model.Participation
		quality   string
		status    string
		members   []byte
		proof     sql.NullString
		preferred sql.NullString
		slotID    sql.NullString
		timeSlot  sql.NullString
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.CollectorName, &quality, &p.Day, &p.Shares, &members,
		&p.TotalAmount, &status, &proof, &preferred, &slotID, &timeSlot, &p.SlotAssigned, &p.Reserved,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Quality = model.Quality(quality)
	p.PaymentStatus = model.PaymentStatus(status)
	if err := json.Unmarshal(members, &p.Members); err != nil {
		return nil, err
	}
	p.PaymentProof = proof.String
	p.PreferredTimeSlot = preferred.String
	p.TimeSlot = timeSlot.String
	if slotID.Valid {
		id := slotID.String
		p.SlotID = &id
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// CreateTx inserts a new participation inside tx.
func (r *ParticipationRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Participation) error {
	members, err := json.Marshal(p.Members)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO participations (`+participationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.CollectorName, string(p.Quality), p.Day, p.Shares, members, p.TotalAmount,
		string(p.PaymentStatus), nullString(p.PaymentProof), nullString(p.PreferredTimeSlot),
		nullStringPtr(p.SlotID), nullString(p.TimeSlot), p.SlotAssigned, p.Reserved, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetTx loads a participation, locking its row until the transaction ends
// when lock is set.  It returns ErrNotFound when the id is unknown.
func (r *ParticipationRepo) GetTx(ctx context.Context, tx *sql.Tx, id string, lock bool) (*model.Participation, error) {
	p, err := scanParticipation(tx.QueryRowContext(ctx,
		`SELECT `+participationColumns+` FROM participations WHERE id = ?`+forUpdate(lock), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// UpdateTx writes every mutable column of p.
func (r *ParticipationRepo) UpdateTx(ctx context.Context, tx *sql.Tx, p *model.Participation) error {
	members, err := json.Marshal(p.Members)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE participations SET
			collector_name = ?, day = ?, shares = ?, members = ?, total_amount = ?, payment_status = ?,
			payment_proof = ?, preferred_time_slot = ?, slot_id = ?, time_slot = ?, slot_assigned = ?,
			reserved = ?, updated_at = ?
		WHERE id = ?`,
		p.CollectorName, p.Day, p.Shares, members, p.TotalAmount, string(p.PaymentStatus),
		nullString(p.PaymentProof), nullString(p.PreferredTimeSlot), nullStringPtr(p.SlotID),
		nullString(p.TimeSlot), p.SlotAssigned, p.Reserved, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	return requireRow(ctx, tx, res, `SELECT 1 FROM participations WHERE id = ?`, p.ID)
}

// DeleteTx removes a participation.
func (r *ParticipationRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM participations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTx returns participations matching f, oldest first.
func (r *ParticipationRepo) ListTx(ctx context.Context, tx *sql.Tx, f model.ParticipationFilter) ([]*model.Participation, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "payment_status = ?")
		args = append(args, string(f.Status))
	}
	if f.Day != 0 {
		where = append(where, "day = ?")
		args = append(args, f.Day)
	}
	q := `SELECT ` + participationColumns + ` FROM participations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Participation, 0)
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// requireRow distinguishes "no row matched" from "row matched but nothing
// changed": MySQL reports zero affected rows for both.
func requireRow(ctx context.Context, tx *sql.Tx, res sql.Result, existsQuery string, args ...any) error {
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	var one int
	err := tx.QueryRowContext(ctx, existsQuery, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (t *mysqlTx) CreateParticipation(ctx context.Context, p *model.Participation) error {
	return t.s.Participations.CreateTx(ctx, t.tx, p)
}

func (t *mysqlTx) GetParticipation(ctx context.Context, id string) (*model.Participation, error) {
	return t.s.Participations.GetTx(ctx, t.tx, id, t.lock)
}

func (t *mysqlTx) UpdateParticipation(ctx context.Context, p *model.Participation) error {
	return t.s.Participations.UpdateTx(ctx, t.tx, p)
}

func (t *mysqlTx) DeleteParticipation(ctx context.Context, id string) error {
	return t.s.Participations.DeleteTx(ctx, t.tx, id)
}

func (t *mysqlTx) ListParticipations(ctx context.Context, f model.ParticipationFilter) ([]*model.Participation, error) {
	return t.s.Participations.ListTx(ctx, t.tx, f)
}
