package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/qurbani/slot-allocation/internal/model"
)

// MemoryStore keeps everything in process memory.  Write transactions are
// serialised by a single mutex and run against a copy of the data that
// replaces the live copy on commit, so a failing transaction leaves no trace.
// Views share a read lock over the live data.  It backs local runs
// (STORE_DRIVER=memory) and the service tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memoryData
}

type memoryData struct {
	tiers          map[model.Quality]model.TierLimit
	participations map[string]*model.Participation
	slots          map[string]*model.Slot
	completions    map[string]*model.CompletionRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryData{
		tiers:          map[model.Quality]model.TierLimit{},
		participations: map[string]*model.Participation{},
		slots:          map[string]*model.Slot{},
		completions:    map[string]*model.CompletionRecord{},
	}}
}

// WithTx runs fn against a private copy of the data and publishes the copy
// only when fn succeeds.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(ctx, &memoryTx{d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// View runs fn over the live data under the read lock.
func (s *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, &memoryTx{d: s.data, readOnly: true})
}

// Close is a no-op.
func (s *MemoryStore) Close(context.Context) error { return nil }

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		tiers:          make(map[model.Quality]model.TierLimit, len(d.tiers)),
		participations: make(map[string]*model.Participation, len(d.participations)),
		slots:          make(map[string]*model.Slot, len(d.slots)),
		completions:    make(map[string]*model.CompletionRecord, len(d.completions)),
	}
	for k, v := range d.tiers {
		c.tiers[k] = v
	}
	for k, v := range d.participations {
		c.participations[k] = cloneParticipation(v)
	}
	for k, v := range d.slots {
		c.slots[k] = v.Clone()
	}
	for k, v := range d.completions {
		c.completions[k] = cloneCompletion(v)
	}
	return c
}

func cloneParticipation(p *model.Participation) *model.Participation {
	c := *p
	c.Members = append([]string(nil), p.Members...)
	if p.SlotID != nil {
		id := *p.SlotID
		c.SlotID = &id
	}
	return &c
}

func cloneCompletion(r *model.CompletionRecord) *model.CompletionRecord {
	c := *r
	c.ParticipationIDs = append([]string(nil), r.ParticipationIDs...)
	c.Names = append([]string(nil), r.Names...)
	return &c
}

// sortSlots orders slots by day and schedule position.
func sortSlots(slots []*model.Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Day != slots[j].Day {
			return slots[i].Day < slots[j].Day
		}
		return model.TimeSlotIndex(slots[i].Day, slots[i].TimeSlot) < model.TimeSlotIndex(slots[j].Day, slots[j].TimeSlot)
	})
}

type memoryTx struct {
	d        *memoryData
	readOnly bool
}

func (t *memoryTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *memoryTx) TierLimits(ctx context.Context, defaultMax int) ([]model.TierLimit, error) {
	out := make([]model.TierLimit, 0, len(model.Qualities))
	for _, q := range model.Qualities {
		lim, err := t.LockTier(ctx, q, defaultMax)
		if err != nil {
			return nil, err
		}
		out = append(out, lim)
	}
	return out, nil
}

func (t *memoryTx) LockTier(_ context.Context, q model.Quality, defaultMax int) (model.TierLimit, error) {
	lim, ok := t.d.tiers[q]
	if !ok {
		lim = model.TierLimit{Quality: q, Max: defaultMax}
		if !t.readOnly {
			t.d.tiers[q] = lim
		}
	}
	return lim, nil
}

func (t *memoryTx) SaveTier(_ context.Context, lim model.TierLimit) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.d.tiers[lim.Quality] = lim
	return nil
}

func (t *memoryTx) CreateParticipation(_ context.Context, p *model.Participation) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.participations[p.ID]; ok {
		return ErrConflict
	}
	t.d.participations[p.ID] = cloneParticipation(p)
	return nil
}

func (t *memoryTx) GetParticipation(_ context.Context, id string) (*model.Participation, error) {
	p, ok := t.d.participations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneParticipation(p), nil
}

func (t *memoryTx) UpdateParticipation(_ context.Context, p *model.Participation) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.participations[p.ID]; !ok {
		return ErrNotFound
	}
	t.d.participations[p.ID] = cloneParticipation(p)
	return nil
}

func (t *memoryTx) DeleteParticipation(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.participations[id]; !ok {
		return ErrNotFound
	}
	delete(t.d.participations, id)
	return nil
}

func (t *memoryTx) ListParticipations(_ context.Context, f model.ParticipationFilter) ([]*model.Participation, error) {
	out := make([]*model.Participation, 0)
	for _, p := range t.d.participations {
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if f.Status != "" && p.PaymentStatus != f.Status {
			continue
		}
		if f.Day != 0 && p.Day != f.Day {
			continue
		}
		out = append(out, cloneParticipation(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memoryTx) GetSlot(_ context.Context, id string) (*model.Slot, error) {
	s, ok := t.d.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (t *memoryTx) SlotAt(_ context.Context, day int, timeSlot string) (*model.Slot, error) {
	for _, s := range t.d.slots {
		if s.Day == day && s.TimeSlot == timeSlot {
			return s.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) SlotsByDay(_ context.Context, day int) ([]*model.Slot, error) {
	out := make([]*model.Slot, 0)
	for _, s := range t.d.slots {
		if day == 0 || s.Day == day {
			out = append(out, s.Clone())
		}
	}
	sortSlots(out)
	return out, nil
}

func (t *memoryTx) SlotsByParticipation(_ context.Context, participationID string) ([]*model.Slot, error) {
	out := make([]*model.Slot, 0)
	for _, s := range t.d.slots {
		if s.Entry(participationID) >= 0 {
			out = append(out, s.Clone())
		}
	}
	sortSlots(out)
	return out, nil
}

func (t *memoryTx) LatestMergedSlot(_ context.Context) (*model.Slot, error) {
	var latest *model.Slot
	for _, s := range t.d.slots {
		if len(s.MergeHistory) == 0 || s.MergedAt == nil {
			continue
		}
		if latest == nil || s.MergedAt.After(*latest.MergedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

func (t *memoryTx) CreateSlot(_ context.Context, s *model.Slot) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, cur := range t.d.slots {
		if cur.ID == s.ID || (cur.Day == s.Day && cur.TimeSlot == s.TimeSlot) {
			return ErrConflict
		}
	}
	s.Version = 1
	t.d.slots[s.ID] = s.Clone()
	return nil
}

func (t *memoryTx) UpdateSlot(_ context.Context, s *model.Slot) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.d.slots[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != s.Version {
		return ErrConflict
	}
	s.Version++
	t.d.slots[s.ID] = s.Clone()
	return nil
}

func (t *memoryTx) DeleteSlot(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.slots[id]; !ok {
		return ErrNotFound
	}
	delete(t.d.slots, id)
	return nil
}

func (t *memoryTx) HasCompletion(_ context.Context, userID, slotID string) (bool, error) {
	for _, c := range t.d.completions {
		if c.UserID == userID && c.SlotID == slotID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) CreateCompletion(ctx context.Context, c *model.CompletionRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	if ok, _ := t.HasCompletion(ctx, c.UserID, c.SlotID); ok {
		return ErrConflict
	}
	t.d.completions[c.ID] = cloneCompletion(c)
	return nil
}

func (t *memoryTx) ListCompletions(_ context.Context, userID string) ([]*model.CompletionRecord, error) {
	out := make([]*model.CompletionRecord, 0)
	for _, c := range t.d.completions {
		if c.UserID == userID {
			out = append(out, cloneCompletion(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
