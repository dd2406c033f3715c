package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/qurbani/slot-allocation/internal/model"
)

// Participations handles submission, the payment state machine and the
// participation listings.
type Participations struct {
	r      *runner
	ledger *Ledger
	alloc  *Allocator
}

// SubmitRequest is what a user sends to buy shares.
type SubmitRequest struct {
	CollectorName     string   `json:"collector_name"`
	Quality           string   `json:"quality"`
	Day               int      `json:"day"`
	Shares            int      `json:"shares"`
	Members           []string `json:"members"`
	PaymentProof      string   `json:"payment_proof"`
	PreferredTimeSlot string   `json:"preferred_time_slot"`
}

func (req SubmitRequest) validate() (model.Quality, []string, error) {
	if strings.TrimSpace(req.CollectorName) == "" {
		return "", nil, validationError("collector_name is required")
	}
	q, ok := model.ParseQuality(req.Quality)
	if !ok {
		return "", nil, validationError("quality must be one of %v", model.Qualities)
	}
	if !model.ValidDay(req.Day) {
		return "", nil, validationError("day must be one of %v", model.Days)
	}
	if req.Shares < 1 {
		return "", nil, validationError("shares must be at least 1")
	}
	if len(req.Members) != req.Shares {
		return "", nil, validationError("expected %d member names, got %d", req.Shares, len(req.Members))
	}
	members := make([]string, len(req.Members))
	for i, m := range req.Members {
		members[i] = strings.TrimSpace(m)
		if members[i] == "" {
			return "", nil, validationError("member name %d is empty", i+1)
		}
	}
	if strings.TrimSpace(req.PaymentProof) == "" {
		return "", nil, validationError("payment_proof is required")
	}
	if req.PreferredTimeSlot != "" && model.TimeSlotIndex(req.Day, req.PreferredTimeSlot) < 0 {
		return "", nil, validationError("%q is not a time slot of day %d", req.PreferredTimeSlot, req.Day)
	}
	return q, members, nil
}

// Submit records a Pending participation and reserves its shares in the
// ledger in the same transaction: either both are written or neither is.
func (s *Participations) Submit(ctx context.Context, userID string, req SubmitRequest) (*model.Participation, error) {
	if userID == "" {
		return nil, newError(KindForbidden, "an authenticated user is required")
	}
	q, members, err := req.validate()
	if err != nil {
		return nil, err
	}
	price, ok := s.r.opts.Prices[q]
	if !ok {
		return nil, validationError("no price configured for %s", q)
	}
	var out *model.Participation
	err = s.r.run(ctx, func(ctx context.Context, t *txn) error {
		if err := s.ledger.reserve(ctx, t, q, req.Shares); err != nil {
			return err
		}
		p := &model.Participation{
			ID:                t.newID(),
			UserID:            userID,
			CollectorName:     strings.TrimSpace(req.CollectorName),
			Quality:           q,
			Day:               req.Day,
			Shares:            req.Shares,
			Members:           members,
			TotalAmount:       price.Mul(decimal.NewFromInt(int64(req.Shares))),
			PaymentStatus:     model.PaymentPending,
			PaymentProof:      strings.TrimSpace(req.PaymentProof),
			PreferredTimeSlot: req.PreferredTimeSlot,
			Reserved:          true,
			CreatedAt:         t.now,
			UpdatedAt:         t.now,
		}
		if err := t.tx.CreateParticipation(ctx, p); err != nil {
			return err
		}
		t.ch.participation(changeCreated, p)
		out = p
		return nil
	})
	return out, err
}

// PaymentResult is the outcome of a payment status change.
type PaymentResult struct {
	Participation *model.Participation   `json:"participation"`
	Allocations   []SlotAllocationResult `json:"allocations,omitempty"`
}

// SetPaymentStatus moves a participation through the payment state machine
// in one transaction.  Entering Completed allocates slots; leaving Completed
// removes every allocation.  Pending re-reserves ledger shares that a
// rejection released.  Setting the current status again changes nothing.
func (s *Participations) SetPaymentStatus(ctx context.Context, id string, next model.PaymentStatus) (*PaymentResult, error) {
	if !next.Valid() {
		return nil, validationError("payment status must be one of Pending, Completed, Rejected")
	}
	var out *PaymentResult
	err := s.r.run(ctx, func(ctx context.Context, t *txn) error {
		p, err := t.getParticipation(ctx, id)
		if err != nil {
			return err
		}
		cur := p.PaymentStatus
		if cur == next {
			out = &PaymentResult{Participation: p}
			return nil
		}
		if !cur.CanTransition(next) {
			return validationError("cannot change payment status from %s to %s", cur, next)
		}

		if cur == model.PaymentCompleted {
			if err := t.deallocate(ctx, p); err != nil {
				return err
			}
		}
		p.PaymentStatus = next
		res := &PaymentResult{Participation: p}
		switch next {
		case model.PaymentCompleted:
			if res.Allocations, err = s.alloc.allocate(ctx, t, p); err != nil {
				return err
			}
		case model.PaymentRejected:
			if s.r.opts.ReleaseOnRemoval && p.Reserved {
				if err := s.ledger.release(ctx, t, p.Quality, p.Shares); err != nil {
					return err
				}
				p.Reserved = false
			}
		case model.PaymentPending:
			if !p.Reserved {
				if err := s.ledger.reserve(ctx, t, p.Quality, p.Shares); err != nil {
					return err
				}
				p.Reserved = true
			}
		}
		if next != model.PaymentCompleted {
			p.UpdatedAt = t.now
			if err := t.tx.UpdateParticipation(ctx, p); err != nil {
				return err
			}
			t.ch.participation(changeUpdated, p)
		}
		out = res
		return nil
	})
	return out, err
}

// Get returns one participation.  Non-admin callers only see their own.
func (s *Participations) Get(ctx context.Context, id, userID string, admin bool) (*model.Participation, error) {
	var out *model.Participation
	err := s.r.view(ctx, func(ctx context.Context, t *txn) error {
		p, err := t.getParticipation(ctx, id)
		if err != nil {
			return err
		}
		if !admin && p.UserID != userID {
			return newError(KindForbidden, "participation %s belongs to another user", id)
		}
		out = p
		return nil
	})
	return out, err
}

// List returns the participations matching f, oldest first.
func (s *Participations) List(ctx context.Context, f model.ParticipationFilter) ([]*model.Participation, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, validationError("unknown payment status %q", f.Status)
	}
	if f.Day != 0 && !model.ValidDay(f.Day) {
		return nil, validationError("day must be one of %v", model.Days)
	}
	var out []*model.Participation
	err := s.r.view(ctx, func(ctx context.Context, t *txn) error {
		var err error
		out, err = t.tx.ListParticipations(ctx, f)
		return err
	})
	return out, err
}
