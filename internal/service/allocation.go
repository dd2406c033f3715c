package service

import (
	"context"

	"github.com/qurbani/slot-allocation/internal/model"
)

// SlotAllocationResult describes the part of a participation placed in one
// slot.
type SlotAllocationResult struct {
	SlotID   string   `json:"slot_id"`
	TimeSlot string   `json:"time_slot"`
	Shares   int      `json:"shares"`
	Names    []string `json:"names"`
	Created  bool     `json:"created"`
}

// Allocator places paid participations into slots and answers availability
// queries.
type Allocator struct {
	r      *runner
	ledger *Ledger
}

// window is one candidate window with what it can take for a tier.
type window struct {
	label string
	slot  *model.Slot
	free  int
}

// freeFor is what a window can still take for tier q.  A free window can
// take a full slot; a slot of another tier or a completed slot takes nothing.
func freeFor(s *model.Slot, q model.Quality) int {
	switch {
	case s == nil:
		return model.SlotCapacity
	case s.Quality != q || s.Completed:
		return 0
	}
	return s.Available()
}

// dayWindows returns every window of day with its slot and free capacity for
// q, in schedule order.
func (t *txn) dayWindows(ctx context.Context, day int, q model.Quality) ([]window, error) {
	slots, err := t.tx.SlotsByDay(ctx, day)
	if err != nil {
		return nil, err
	}
	byLabel := make(map[string]*model.Slot, len(slots))
	for _, s := range slots {
		byLabel[s.TimeSlot] = s
	}
	labels := model.TimeSlots(day)
	out := make([]window, 0, len(labels))
	for _, l := range labels {
		s := byLabel[l]
		out = append(out, window{label: l, slot: s, free: freeFor(s, q)})
	}
	return out, nil
}

// preferredFirst moves the preferred window to the front and keeps the rest
// in schedule order.
func preferredFirst(ws []window, preferred string) []window {
	if preferred == "" {
		return ws
	}
	out := make([]window, 0, len(ws))
	for _, w := range ws {
		if w.label == preferred {
			out = append(out, w)
		}
	}
	for _, w := range ws {
		if w.label != preferred {
			out = append(out, w)
		}
	}
	return out
}

// allocate places every share of p, which must be Completed, into slots of
// its day.  Capacity is checked for the whole request before anything is
// written, so a failure leaves no partial allocation behind.  The first slot
// written becomes the primary slot.
func (a *Allocator) allocate(ctx context.Context, t *txn, p *model.Participation) ([]SlotAllocationResult, error) {
	if p.PaymentStatus != model.PaymentCompleted {
		return nil, validationError("participation %s is not paid", p.ID)
	}
	if existing, err := t.tx.SlotsByParticipation(ctx, p.ID); err != nil {
		return nil, err
	} else if len(existing) > 0 {
		return nil, conflictError("participation %s is already allocated", p.ID)
	}

	if p.Reserved {
		if err := a.ledger.verify(ctx, t, p.Quality); err != nil {
			return nil, err
		}
	} else {
		if err := a.ledger.reserve(ctx, t, p.Quality, p.Shares); err != nil {
			return nil, err
		}
		p.Reserved = true
	}

	ws, err := t.dayWindows(ctx, p.Day, p.Quality)
	if err != nil {
		return nil, err
	}
	total, usable := 0, 0
	for _, w := range ws {
		total += w.free
		if w.free > 0 {
			usable++
		}
	}
	if total < p.Shares {
		return nil, capacityError("not enough capacity on day %d: %d %s shares requested, %d available",
			p.Day, p.Shares, p.Quality, total)
	}
	if p.Shares > model.SlotCapacity {
		need := (p.Shares + model.SlotCapacity - 1) / model.SlotCapacity
		if usable < need {
			return nil, capacityError("need %d slots but only %d available on day %d", need, usable, p.Day)
		}
	}

	var results []SlotAllocationResult
	remaining, next := p.Shares, 0
	for _, w := range preferredFirst(ws, p.PreferredTimeSlot) {
		if remaining == 0 {
			break
		}
		if w.free == 0 {
			continue
		}
		take := min(remaining, w.free)
		indexes := make([]int, take)
		for i := range indexes {
			indexes[i] = next + i
		}
		slot := w.slot
		created := slot == nil
		if created {
			slot = t.newSlot(p.Day, w.label, p.Quality)
		}
		if err := addAllocation(slot, p, indexes); err != nil {
			return nil, err
		}
		if err := t.persistSlot(ctx, slot); err != nil {
			return nil, err
		}
		results = append(results, SlotAllocationResult{
			SlotID:   slot.ID,
			TimeSlot: slot.TimeSlot,
			Shares:   take,
			Names:    memberNames(p, indexes),
			Created:  created,
		})
		remaining -= take
		next += take
	}
	if remaining > 0 {
		return nil, capacityError("allocation left %d of %d shares unplaced", remaining, p.Shares)
	}
	if err := t.syncParticipation(ctx, p, results[0].SlotID); err != nil {
		return nil, err
	}
	return results, nil
}

// deallocate removes every allocation of p and clears its slot reference.
// Slots left empty are deleted.
func (t *txn) deallocate(ctx context.Context, p *model.Participation) error {
	slots, err := t.tx.SlotsByParticipation(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, s := range slots {
		if err := requireOpen(s); err != nil {
			return err
		}
		takeAllocation(s, p.ID)
		if err := t.persistSlot(ctx, s); err != nil {
			return err
		}
	}
	return t.syncParticipation(ctx, p, "")
}

// Available reports, for every window of day, how many shares of tier q it
// can still take.  With q empty each window reports its own free capacity.
func (a *Allocator) Available(ctx context.Context, day int, q model.Quality) ([]model.SlotAvailability, error) {
	if !model.ValidDay(day) {
		return nil, validationError("day must be one of %v", model.Days)
	}
	if q != "" && !q.Valid() {
		return nil, validationError("unknown quality %q", q)
	}
	var out []model.SlotAvailability
	err := a.r.view(ctx, func(ctx context.Context, t *txn) error {
		tier := q
		ws, err := t.dayWindows(ctx, day, tier)
		if err != nil {
			return err
		}
		out = make([]model.SlotAvailability, 0, len(ws))
		for _, w := range ws {
			av := model.SlotAvailability{TimeSlot: w.label, Quality: tier, Available: w.free}
			if w.slot != nil {
				id := w.slot.ID
				av.SlotID = &id
				av.Quality = w.slot.Quality
				if tier == "" {
					av.Available = freeFor(w.slot, w.slot.Quality)
				}
			}
			out = append(out, av)
		}
		return nil
	})
	return out, err
}

// ListSlots returns the slots of a day in schedule order; day 0 lists every
// slot.
func (a *Allocator) ListSlots(ctx context.Context, day int) ([]*model.Slot, error) {
	if day != 0 && !model.ValidDay(day) {
		return nil, validationError("day must be one of %v", model.Days)
	}
	var out []*model.Slot
	err := a.r.view(ctx, func(ctx context.Context, t *txn) error {
		var err error
		out, err = t.tx.SlotsByDay(ctx, day)
		return err
	})
	return out, err
}

// GetSlot returns one slot.
func (a *Allocator) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	var out *model.Slot
	err := a.r.view(ctx, func(ctx context.Context, t *txn) error {
		var err error
		out, err = t.getSlot(ctx, id)
		return err
	})
	return out, err
}
