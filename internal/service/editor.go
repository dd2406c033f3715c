package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/repository"
)

// Editor implements the administrative slot operations.  Each operation is
// one transaction and ends by syncing every participation it touched, so
// slot entries and Participation.Members never drift apart.
type Editor struct {
	r      *runner
	ledger *Ledger
}

// participationCache loads each participation once per transaction.
type participationCache map[string]*model.Participation

func (c participationCache) get(ctx context.Context, t *txn, id string) (*model.Participation, error) {
	if p, ok := c[id]; ok {
		return p, nil
	}
	p, err := t.getParticipation(ctx, id)
	if err != nil {
		return nil, err
	}
	c[id] = p
	return p, nil
}

// syncAll syncs the cached participations in id order.
func (c participationCache) syncAll(ctx context.Context, t *txn) error {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if err := t.syncParticipation(ctx, c[id], ""); err != nil {
			return err
		}
	}
	return nil
}

// reload returns the committed-so-far state of a slot, or nil if it is gone.
func (t *txn) reload(ctx context.Context, id string) (*model.Slot, error) {
	s, err := t.tx.GetSlot(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return s, err
}

// MergeRequest names the source slot and either a destination slot or a
// destination day.
type MergeRequest struct {
	SourceSlotID string `json:"source_slot_id"`
	DestSlotID   string `json:"dest_slot_id,omitempty"`
	DestDay      int    `json:"dest_day,omitempty"`
}

// MergeResult reports both slots after a merge.  Source is nil when the
// merge emptied and deleted it.
type MergeResult struct {
	Source      *model.Slot `json:"source"`
	Destination *model.Slot `json:"destination"`
	MovedShares int         `json:"moved_shares"`
}

// Merge moves as many shares as fit from the source slot into the
// destination.  With a destination day instead of a slot, the first slot of
// the same tier with free room on that day is used.  What moved is recorded
// in the destination's merge history so Undo can reverse it.
func (e *Editor) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	if req.SourceSlotID == "" {
		return nil, validationError("source_slot_id is required")
	}
	if (req.DestSlotID == "") == (req.DestDay == 0) {
		return nil, validationError("exactly one of dest_slot_id and dest_day is required")
	}
	if req.DestDay != 0 && !model.ValidDay(req.DestDay) {
		return nil, validationError("day must be one of %v", model.Days)
	}
	var out *MergeResult
	err := e.r.run(ctx, func(ctx context.Context, t *txn) error {
		src, err := t.getSlot(ctx, req.SourceSlotID)
		if err != nil {
			return err
		}
		if err := requireOpen(src); err != nil {
			return err
		}
		dest, err := e.mergeDestination(ctx, t, src, req)
		if err != nil {
			return err
		}
		free := dest.Available()
		if free == 0 {
			return capacityError("destination slot at %s is full", dest.TimeSlot)
		}

		cache := participationCache{}
		moved := 0
		for _, entry := range slices.Clone(src.Participants) {
			if free == 0 {
				break
			}
			p, err := cache.get(ctx, t, entry.ParticipationID)
			if err != nil {
				return err
			}
			take := min(entry.Shares, free)
			if err := t.changeDay(ctx, p, src, dest, take == entry.Shares); err != nil {
				return err
			}
			indexes := slices.Clone(entry.MemberIndexes[:take])
			removeIndexes(src, p, indexes)
			if err := addAllocation(dest, p, indexes); err != nil {
				return err
			}
			dest.MergeHistory = append(dest.MergeHistory, model.MergeEntry{
				SourceSlotID:    src.ID,
				SourceDay:       src.Day,
				SourceTimeSlot:  src.TimeSlot,
				ParticipationID: p.ID,
				CollectorName:   p.CollectorName,
				Names:           memberNames(p, indexes),
				MemberIndexes:   indexes,
				Shares:          take,
				MergedAt:        t.now,
			})
			free -= take
			moved += take
		}
		now := t.now
		dest.MergedAt = &now

		if err := t.persistSlot(ctx, src); err != nil {
			return err
		}
		if err := t.persistSlot(ctx, dest); err != nil {
			return err
		}
		if err := cache.syncAll(ctx, t); err != nil {
			return err
		}

		res := &MergeResult{MovedShares: moved}
		if res.Source, err = t.reload(ctx, src.ID); err != nil {
			return err
		}
		if res.Destination, err = t.reload(ctx, dest.ID); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (e *Editor) mergeDestination(ctx context.Context, t *txn, src *model.Slot, req MergeRequest) (*model.Slot, error) {
	if req.DestSlotID != "" {
		if req.DestSlotID == src.ID {
			return nil, validationError("cannot merge a slot into itself")
		}
		dest, err := t.getSlot(ctx, req.DestSlotID)
		if err != nil {
			return nil, err
		}
		if err := requireOpen(dest); err != nil {
			return nil, err
		}
		if err := requireSameQuality(dest, src.Quality); err != nil {
			return nil, err
		}
		return dest, nil
	}
	slots, err := t.tx.SlotsByDay(ctx, req.DestDay)
	if err != nil {
		return nil, err
	}
	for _, s := range slots {
		if s.ID != src.ID && s.Quality == src.Quality && !s.Completed && s.Available() > 0 {
			return s, nil
		}
	}
	return nil, capacityError("no %s slot with free capacity on day %d", src.Quality, req.DestDay)
}

// UndoResult reports the slots an undo touched.  Destination is nil when the
// undo emptied and deleted it.
type UndoResult struct {
	Destination    *model.Slot   `json:"destination"`
	Restored       []*model.Slot `json:"restored"`
	RestoredShares int           `json:"restored_shares"`
}

// Undo reverses every merge recorded on a slot; an empty slotID picks the
// most recently merged slot.  Entries are grouped by source slot.  A source
// slot that no longer exists is recreated with its old id, at its old window
// when that is free and otherwise at the first free window of its day.
func (e *Editor) Undo(ctx context.Context, slotID string) (*UndoResult, error) {
	var out *UndoResult
	err := e.r.run(ctx, func(ctx context.Context, t *txn) error {
		var dest *model.Slot
		var err error
		if slotID == "" {
			dest, err = t.tx.LatestMergedSlot(ctx)
			if errors.Is(err, repository.ErrNotFound) {
				return notFoundError("no merged slot to undo")
			}
		} else {
			dest, err = t.getSlot(ctx, slotID)
		}
		if err != nil {
			return err
		}
		if len(dest.MergeHistory) == 0 {
			return validationError("slot at %s has no merge to undo", dest.TimeSlot)
		}
		if err := requireOpen(dest); err != nil {
			return err
		}

		var order []string
		groups := map[string][]model.MergeEntry{}
		for _, m := range dest.MergeHistory {
			if _, seen := groups[m.SourceSlotID]; !seen {
				order = append(order, m.SourceSlotID)
			}
			groups[m.SourceSlotID] = append(groups[m.SourceSlotID], m)
		}

		cache := participationCache{}
		res := &UndoResult{}
		for _, srcID := range order {
			entries := groups[srcID]
			src, err := e.undoSource(ctx, t, srcID, entries[0], dest.Quality)
			if err != nil {
				return err
			}
			for _, m := range entries {
				p, err := cache.get(ctx, t, m.ParticipationID)
				if err != nil {
					return err
				}
				back := undoIndexes(dest, m)
				if len(back) == 0 {
					continue
				}
				removeIndexes(dest, p, back)
				if err := addAllocation(src, p, back); err != nil {
					return err
				}
				if src.Day != dest.Day && dest.Entry(p.ID) < 0 {
					p.Day, p.PreferredTimeSlot = src.Day, src.TimeSlot
				}
				res.RestoredShares += len(back)
			}
			if err := t.persistSlot(ctx, src); err != nil {
				return err
			}
			res.Restored = append(res.Restored, src)
		}

		dest.MergeHistory = nil
		dest.MergedAt = nil
		if err := t.persistSlot(ctx, dest); err != nil {
			return err
		}
		if err := cache.syncAll(ctx, t); err != nil {
			return err
		}

		for i, s := range res.Restored {
			if res.Restored[i], err = t.reload(ctx, s.ID); err != nil {
				return err
			}
		}
		res.Restored = slices.DeleteFunc(res.Restored, func(s *model.Slot) bool { return s == nil })
		if res.Destination, err = t.reload(ctx, dest.ID); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// undoSource returns the slot an undo group goes back to, recreating it when
// the merge deleted it.
func (e *Editor) undoSource(ctx context.Context, t *txn, id string, first model.MergeEntry, q model.Quality) (*model.Slot, error) {
	src, err := t.reload(ctx, id)
	if err != nil {
		return nil, err
	}
	if src != nil {
		if err := requireOpen(src); err != nil {
			return nil, err
		}
		if err := requireSameQuality(src, q); err != nil {
			return nil, err
		}
		return src, nil
	}
	label := first.SourceTimeSlot
	occupant, err := t.slotAt(ctx, first.SourceDay, label)
	if err != nil {
		return nil, err
	}
	if occupant != nil {
		label = ""
		for _, l := range model.TimeSlots(first.SourceDay) {
			s, err := t.slotAt(ctx, first.SourceDay, l)
			if err != nil {
				return nil, err
			}
			if s == nil {
				label = l
				break
			}
		}
		if label == "" {
			return nil, capacityError("no free time slot on day %d to restore the merged shares", first.SourceDay)
		}
	}
	s := t.newSlot(first.SourceDay, label, q)
	s.ID = id
	return s, nil
}

// undoIndexes picks the member indexes a merge record sends back: the
// recorded ones still present in the destination, topped up from the end of
// the destination entry when some were edited away since.
func undoIndexes(dest *model.Slot, m model.MergeEntry) []int {
	i := dest.Entry(m.ParticipationID)
	if i < 0 {
		return nil
	}
	have := dest.Participants[i].MemberIndexes
	var back []int
	for _, idx := range m.MemberIndexes {
		if slices.Contains(have, idx) {
			back = append(back, idx)
		}
	}
	want := min(m.Shares, len(have))
	for j := len(have) - 1; j >= 0 && len(back) < want; j-- {
		if !slices.Contains(back, have[j]) {
			back = append(back, have[j])
		}
	}
	slices.Sort(back)
	return back
}

// MoveResult reports the slots and participation after a move.
type MoveResult struct {
	Source        *model.Slot          `json:"source"`
	Target        *model.Slot          `json:"target"`
	Participation *model.Participation `json:"participation"`
}

// MoveToSlot relocates the whole entry of a participation from one slot to
// another of the same tier and makes the target its primary slot.  Moving to
// another day is only allowed when this entry is all the participation has.
func (e *Editor) MoveToSlot(ctx context.Context, sourceID, participationID, targetID string) (*MoveResult, error) {
	if participationID == "" || targetID == "" {
		return nil, validationError("participation_id and target_slot_id are required")
	}
	if sourceID == targetID {
		return nil, validationError("source and target slot are the same")
	}
	var out *MoveResult
	err := e.r.run(ctx, func(ctx context.Context, t *txn) error {
		src, err := t.getSlot(ctx, sourceID)
		if err != nil {
			return err
		}
		if err := requireOpen(src); err != nil {
			return err
		}
		i := src.Entry(participationID)
		if i < 0 {
			return notFoundError("participation %s has no shares in slot %s", participationID, sourceID)
		}
		target, err := t.getSlot(ctx, targetID)
		if err != nil {
			return err
		}
		if err := requireOpen(target); err != nil {
			return err
		}
		if err := requireSameQuality(target, src.Quality); err != nil {
			return err
		}
		entry := src.Participants[i]
		if target.Available() < entry.Shares {
			return capacityError("slot at %s has room for %d shares, %d needed", target.TimeSlot, target.Available(), entry.Shares)
		}
		p, err := t.getParticipation(ctx, participationID)
		if err != nil {
			return err
		}
		if err := t.changeDay(ctx, p, src, target, true); err != nil {
			return err
		}

		takeAllocation(src, participationID)
		if err := addAllocation(target, p, entry.MemberIndexes); err != nil {
			return err
		}
		if err := t.persistSlot(ctx, src); err != nil {
			return err
		}
		if err := t.persistSlot(ctx, target); err != nil {
			return err
		}
		if err := t.syncParticipation(ctx, p, target.ID); err != nil {
			return err
		}

		res := &MoveResult{Participation: p}
		if res.Source, err = t.reload(ctx, src.ID); err != nil {
			return err
		}
		if res.Target, err = t.reload(ctx, target.ID); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// changeDay moves p to the day of dest when its entry in src is relocated
// there.  A participation only changes day as a whole: the entry must move
// entirely and src must be the only slot holding it.  The preferred window
// follows to dest so a later reallocation stays on the new day's schedule.
func (t *txn) changeDay(ctx context.Context, p *model.Participation, src, dest *model.Slot, whole bool) error {
	if dest.Day == src.Day {
		return nil
	}
	if !whole {
		return validationError("only part of participation %s fits on day %d; it cannot be split across days", p.ID, dest.Day)
	}
	all, err := t.tx.SlotsByParticipation(ctx, p.ID)
	if err != nil {
		return err
	}
	if len(all) > 1 {
		return validationError("participation %s is split across %d slots; shuffle it to change its day", p.ID, len(all))
	}
	p.Day, p.PreferredTimeSlot = dest.Day, dest.TimeSlot
	return nil
}

// ShuffleResult reports where a participation landed.
type ShuffleResult struct {
	Participation *model.Participation `json:"participation"`
	Slots         []*model.Slot        `json:"slots"`
}

// Shuffle moves a participation to another day.  Every entry it holds is
// placed in the first window of the target day that can take the whole
// entry for its tier, creating a slot when the window is free.  The entry
// from slotID lands in the new primary slot.
func (e *Editor) Shuffle(ctx context.Context, slotID, participationID string, targetDay int) (*ShuffleResult, error) {
	if participationID == "" {
		return nil, validationError("participation_id is required")
	}
	if !model.ValidDay(targetDay) {
		return nil, validationError("day must be one of %v", model.Days)
	}
	var out *ShuffleResult
	err := e.r.run(ctx, func(ctx context.Context, t *txn) error {
		src, err := t.getSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if src.Entry(participationID) < 0 {
			return notFoundError("participation %s has no shares in slot %s", participationID, slotID)
		}
		if src.Day == targetDay {
			return validationError("participation is already on day %d", targetDay)
		}
		p, err := t.getParticipation(ctx, participationID)
		if err != nil {
			return err
		}
		held, err := t.tx.SlotsByParticipation(ctx, participationID)
		if err != nil {
			return err
		}
		for _, s := range held {
			if err := requireOpen(s); err != nil {
				return err
			}
		}
		ws, err := t.dayWindows(ctx, targetDay, p.Quality)
		if err != nil {
			return err
		}

		primaryID, primaryLabel := "", ""
		var landed []string
		for _, s := range held {
			if s.Day == targetDay {
				continue
			}
			i := s.Entry(participationID)
			entry := s.Participants[i]
			w := firstFit(ws, entry.Shares)
			if w == nil {
				return capacityError("no time slot on day %d can take %d %s shares", targetDay, entry.Shares, p.Quality)
			}
			if w.slot == nil {
				w.slot = t.newSlot(targetDay, w.label, p.Quality)
			}
			takeAllocation(s, participationID)
			if err := addAllocation(w.slot, p, entry.MemberIndexes); err != nil {
				return err
			}
			if err := t.persistSlot(ctx, s); err != nil {
				return err
			}
			if err := t.persistSlot(ctx, w.slot); err != nil {
				return err
			}
			w.free -= entry.Shares
			if s.ID == slotID {
				primaryID, primaryLabel = w.slot.ID, w.slot.TimeSlot
			}
			if !slices.Contains(landed, w.slot.ID) {
				landed = append(landed, w.slot.ID)
			}
		}

		p.Day, p.PreferredTimeSlot = targetDay, primaryLabel
		if err := t.syncParticipation(ctx, p, primaryID); err != nil {
			return err
		}
		res := &ShuffleResult{Participation: p}
		for _, id := range landed {
			s, err := t.reload(ctx, id)
			if err != nil {
				return err
			}
			res.Slots = append(res.Slots, s)
		}
		out = res
		return nil
	})
	return out, err
}

func firstFit(ws []window, shares int) *window {
	for i := range ws {
		if ws[i].free >= shares {
			return &ws[i]
		}
	}
	return nil
}

// memberAt resolves the index-th name of a participation's entry in a slot to
// its position in Participation.Members.
func memberAt(s *model.Slot, participationID string, index int) (int, error) {
	i := s.Entry(participationID)
	if i < 0 {
		return 0, notFoundError("participation %s has no shares in slot %s", participationID, s.ID)
	}
	idxs := s.Participants[i].MemberIndexes
	if index < 0 || index >= len(idxs) {
		return 0, validationError("name index %d out of range (0..%d)", index, len(idxs)-1)
	}
	return idxs[index], nil
}

// RenameParticipant changes the index-th name of a participation's entry in
// a slot.  The name changes in Participation.Members and in every slot entry
// and merge record projecting it.
func (e *Editor) RenameParticipant(ctx context.Context, slotID, participationID string, index int, name string) (*model.Participation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	var out *model.Participation
	err := e.r.run(ctx, func(ctx context.Context, t *txn) error {
		s, err := t.getSlot(ctx, slotID)
		if err != nil {
			return err
		}
		member, err := memberAt(s, participationID, index)
		if err != nil {
			return err
		}
		p, err := t.getParticipation(ctx, participationID)
		if err != nil {
			return err
		}
		if member >= len(p.Members) {
			return conflictError("slot %s is out of step with participation %s", slotID, participationID)
		}
		p.Members[member] = name
		if err := t.syncParticipation(ctx, p, ""); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// DeleteResult reports the participation after members were removed; it is
// nil when the last member went and the participation was deleted.
type DeleteResult struct {
	Participation        *model.Participation `json:"participation"`
	ParticipationDeleted bool                 `json:"participation_deleted"`
}

// DeleteParticipant removes the index-th name of a participation's entry in
// a slot.  Shares and the amount due shrink with it; deleting the last name
// deletes the participation and a slot left empty is deleted.
func (e *Editor) DeleteParticipant(ctx context.Context, slotID, participationID string, index int) (*DeleteResult, error) {
	var out *DeleteResult
	err := e.r.run(ctx, func(ctx context.Context, t *txn) error {
		s, err := t.getSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if err := requireOpen(s); err != nil {
			return err
		}
		member, err := memberAt(s, participationID, index)
		if err != nil {
			return err
		}
		p, err := t.getParticipation(ctx, participationID)
		if err != nil {
			return err
		}
		deleted, err := e.removeMembers(ctx, t, p, []int{member})
		if err != nil {
			return err
		}
		out = &DeleteResult{ParticipationDeleted: deleted}
		if !deleted {
			out.Participation = p
		}
		return nil
	})
	return out, err
}

// DeleteSlotResult summarises a slot deletion.
type DeleteSlotResult struct {
	SlotID                string   `json:"slot_id"`
	RemovedShares         int      `json:"removed_shares"`
	UpdatedParticipations []string `json:"updated_participations"`
	DeletedParticipations []string `json:"deleted_participations"`
}

// DeleteSlot deletes a slot together with the members it holds, exactly as
// if each of its names had been deleted one by one.
func (e *Editor) DeleteSlot(ctx context.Context, slotID string) (*DeleteSlotResult, error) {
	var out *DeleteSlotResult
	err := e.r.run(ctx, func(ctx context.Context, t *txn) error {
		s, err := t.getSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if err := requireOpen(s); err != nil {
			return err
		}
		res := &DeleteSlotResult{SlotID: s.ID}
		for _, entry := range slices.Clone(s.Participants) {
			p, err := t.getParticipation(ctx, entry.ParticipationID)
			if err != nil {
				return err
			}
			deleted, err := e.removeMembers(ctx, t, p, entry.MemberIndexes)
			if err != nil {
				return err
			}
			res.RemovedShares += entry.Shares
			if deleted {
				res.DeletedParticipations = append(res.DeletedParticipations, p.ID)
			} else {
				res.UpdatedParticipations = append(res.UpdatedParticipations, p.ID)
			}
		}
		// entries not backed by their participation are dropped with the slot
		if left, err := t.reload(ctx, s.ID); err != nil {
			return err
		} else if left != nil {
			left.Participants = nil
			if err := t.persistSlot(ctx, left); err != nil {
				return err
			}
		}
		out = res
		return nil
	})
	return out, err
}

// removeMembers deletes the members at the given positions of p.  Every slot
// entry and merge record of p is reindexed, slots left empty are deleted and
// the amount due drops by the unit price per member.  It reports whether p
// itself was deleted because no member was left.
func (e *Editor) removeMembers(ctx context.Context, t *txn, p *model.Participation, members []int) (bool, error) {
	members = slices.Clone(members)
	slices.Sort(members)
	members = slices.Compact(members)
	unit := p.UnitPrice()

	kept := make([]string, 0, len(p.Members))
	for i, m := range p.Members {
		if !slices.Contains(members, i) {
			kept = append(kept, m)
		}
	}
	removed := len(p.Members) - len(kept)
	p.Members = kept
	p.Shares = len(kept)
	p.TotalAmount = p.TotalAmount.Sub(unit.Mul(decimal.NewFromInt(int64(removed))))

	slots, err := t.tx.SlotsByParticipation(ctx, p.ID)
	if err != nil {
		return false, err
	}
	for _, s := range slots {
		if i := s.Entry(p.ID); i >= 0 {
			en := &s.Participants[i]
			en.MemberIndexes = reindex(en.MemberIndexes, members)
			project(en, p)
			if len(en.MemberIndexes) == 0 {
				s.Participants = slices.Delete(s.Participants, i, i+1)
			}
		}
		history := s.MergeHistory[:0:0]
		for _, m := range s.MergeHistory {
			if m.ParticipationID == p.ID {
				m.MemberIndexes = reindex(m.MemberIndexes, members)
				m.Names = memberNames(p, m.MemberIndexes)
				m.Shares = len(m.MemberIndexes)
				if m.Shares == 0 {
					continue
				}
			}
			history = append(history, m)
		}
		s.MergeHistory = history
		if len(history) == 0 {
			s.MergeHistory, s.MergedAt = nil, nil
		}
		if err := t.persistSlot(ctx, s); err != nil {
			return false, err
		}
	}

	if e.r.opts.ReleaseOnRemoval && p.Reserved && removed > 0 {
		if err := e.ledger.release(ctx, t, p.Quality, removed); err != nil {
			return false, err
		}
	}

	if p.Shares == 0 {
		if err := t.tx.DeleteParticipation(ctx, p.ID); err != nil {
			return false, err
		}
		t.ch.participation(changeDeleted, p)
		return true, nil
	}
	return false, t.syncParticipation(ctx, p, "")
}

// reindex drops removed positions from idxs and shifts the rest down.
func reindex(idxs, removed []int) []int {
	out := make([]int, 0, len(idxs))
	for _, idx := range idxs {
		if slices.Contains(removed, idx) {
			continue
		}
		shift := 0
		for _, r := range removed {
			if r < idx {
				shift++
			}
		}
		out = append(out, idx-shift)
	}
	return out
}
