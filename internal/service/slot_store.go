package service

import (
	"context"
	"errors"
	"slices"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/repository"
)

// Slot primitives.  AllocationEngine and Editor only touch slots through
// these helpers, which keep the capacity rule, the single-tier rule and the
// name projection in one place.

func (t *txn) getSlot(ctx context.Context, id string) (*model.Slot, error) {
	s, err := t.tx.GetSlot(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("slot %s not found", id)
	}
	return s, err
}

func (t *txn) getParticipation(ctx context.Context, id string) (*model.Participation, error) {
	p, err := t.tx.GetParticipation(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("participation %s not found", id)
	}
	return p, err
}

// slotAt returns the slot in a window, or nil when the window is free.
func (t *txn) slotAt(ctx context.Context, day int, timeSlot string) (*model.Slot, error) {
	s, err := t.tx.SlotAt(ctx, day, timeSlot)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return s, err
}

// newSlot returns an unsaved slot; persistSlot inserts it once it holds
// something.
func (t *txn) newSlot(day int, timeSlot string, q model.Quality) *model.Slot {
	return &model.Slot{
		ID:           t.newID(),
		Day:          day,
		TimeSlot:     timeSlot,
		Quality:      q,
		Participants: []model.ParticipantAllocation{},
		CreatedAt:    t.now,
		UpdatedAt:    t.now,
	}
}

// persistSlot writes s: an unsaved slot is created, an empty slot is deleted
// and anything else is updated.  A slot above capacity is never written.
func (t *txn) persistSlot(ctx context.Context, s *model.Slot) error {
	if total := s.TotalShares(); total > model.SlotCapacity {
		return capacityError("slot %s at %s would hold %d shares, capacity is %d", s.ID, s.TimeSlot, total, model.SlotCapacity)
	}
	s.UpdatedAt = t.now
	switch {
	case s.Version == 0:
		if s.Empty() {
			return nil
		}
		if err := t.tx.CreateSlot(ctx, s); err != nil {
			return err
		}
		t.ch.slot(changeCreated, s)
	case s.Empty():
		if err := t.tx.DeleteSlot(ctx, s.ID); err != nil {
			return err
		}
		t.ch.slot(changeDeleted, s)
	default:
		if err := t.tx.UpdateSlot(ctx, s); err != nil {
			return err
		}
		t.ch.slot(changeUpdated, s)
	}
	return nil
}

// requireSameQuality is the one rule every merge, move and shuffle path
// checks: shares never land in a slot of another tier.
func requireSameQuality(slot *model.Slot, q model.Quality) error {
	if slot.Quality != q {
		return validationError("cannot place %s shares in %s slot at %s", q, slot.Quality, slot.TimeSlot)
	}
	return nil
}

func requireOpen(s *model.Slot) error {
	if s.Completed {
		return conflictError("slot at %s on day %d is already completed", s.TimeSlot, s.Day)
	}
	return nil
}

// addAllocation puts the members at indexes of p into s, merging with an
// existing entry of the same participation.
func addAllocation(s *model.Slot, p *model.Participation, indexes []int) error {
	if err := requireSameQuality(s, p.Quality); err != nil {
		return err
	}
	if len(indexes) > s.Available() {
		return capacityError("slot at %s has room for %d shares, %d requested", s.TimeSlot, s.Available(), len(indexes))
	}
	i := s.Entry(p.ID)
	if i < 0 {
		s.Participants = append(s.Participants, model.ParticipantAllocation{
			ParticipationID: p.ID,
			UserID:          p.UserID,
		})
		i = len(s.Participants) - 1
	}
	e := &s.Participants[i]
	e.MemberIndexes = mergeIndexes(e.MemberIndexes, indexes)
	project(e, p)
	return nil
}

// takeAllocation removes and returns the entry of participationID.
func takeAllocation(s *model.Slot, participationID string) (model.ParticipantAllocation, bool) {
	i := s.Entry(participationID)
	if i < 0 {
		return model.ParticipantAllocation{}, false
	}
	e := s.Participants[i]
	s.Participants = slices.Delete(s.Participants, i, i+1)
	return e, true
}

// removeIndexes drops the given member indexes from the entry of p and
// returns those that were present.  An entry left without members is removed.
func removeIndexes(s *model.Slot, p *model.Participation, indexes []int) []int {
	i := s.Entry(p.ID)
	if i < 0 {
		return nil
	}
	e := &s.Participants[i]
	var removed []int
	kept := e.MemberIndexes[:0:0]
	for _, idx := range e.MemberIndexes {
		if slices.Contains(indexes, idx) {
			removed = append(removed, idx)
			continue
		}
		kept = append(kept, idx)
	}
	e.MemberIndexes = kept
	project(e, p)
	if len(kept) == 0 {
		s.Participants = slices.Delete(s.Participants, i, i+1)
	}
	return removed
}

func mergeIndexes(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	for _, idx := range b {
		if !slices.Contains(out, idx) {
			out = append(out, idx)
		}
	}
	slices.Sort(out)
	return out
}

// project rebuilds the denormalised fields of e from the participation.
func project(e *model.ParticipantAllocation, p *model.Participation) {
	e.UserID = p.UserID
	e.CollectorName = p.CollectorName
	e.Names = memberNames(p, e.MemberIndexes)
	e.Shares = len(e.MemberIndexes)
}

func memberNames(p *model.Participation, indexes []int) []string {
	names := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		if idx >= 0 && idx < len(p.Members) {
			names = append(names, p.Members[idx])
		}
	}
	return names
}

// syncParticipation is the single place that keeps a participation and the
// slots holding it in step.  It rebuilds the name projection of every entry
// and merge record of p, writes the slots whose projection changed, repoints
// the primary slot and saves p.  The primary becomes primaryID when given and
// still holding p, otherwise the current primary if it still holds p,
// otherwise the earliest slot holding p.
func (t *txn) syncParticipation(ctx context.Context, p *model.Participation, primaryID string) error {
	slots, err := t.tx.SlotsByParticipation(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, s := range slots {
		changed := false
		if i := s.Entry(p.ID); i >= 0 {
			e := &s.Participants[i]
			before := e.Clone()
			project(e, p)
			changed = !before.Equal(*e)
		}
		for j := range s.MergeHistory {
			m := &s.MergeHistory[j]
			if m.ParticipationID != p.ID {
				continue
			}
			names := memberNames(p, m.MemberIndexes)
			if !slices.Equal(names, m.Names) || m.CollectorName != p.CollectorName {
				m.Names, m.CollectorName, changed = names, p.CollectorName, true
			}
		}
		if changed {
			if err := t.persistSlot(ctx, s); err != nil {
				return err
			}
		}
	}

	var primary *model.Slot
	for _, s := range slots {
		if s.ID == primaryID {
			primary = s
			break
		}
	}
	if primary == nil && p.SlotID != nil {
		for _, s := range slots {
			if s.ID == *p.SlotID {
				primary = s
				break
			}
		}
	}
	if primary == nil && len(slots) > 0 {
		primary = slots[0]
	}
	if primary != nil {
		p.AssignSlot(primary)
	} else {
		p.ClearSlot()
	}
	p.UpdatedAt = t.now
	if err := t.tx.UpdateParticipation(ctx, p); err != nil {
		return err
	}
	t.ch.participation(changeUpdated, p)
	return nil
}

// allocatedShares sums the shares of p across slots.
func allocatedShares(slots []*model.Slot, participationID string) int {
	n := 0
	for _, s := range slots {
		if i := s.Entry(participationID); i >= 0 {
			n += s.Participants[i].Shares
		}
	}
	return n
}
