package service

import (
	"time"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/realtime"
)

type changeKind int

const (
	changeCreated changeKind = iota + 1
	changeUpdated
	changeDeleted
)

// changes collects what one transaction did.  Several writes to the same
// slot or participation collapse into one notification carrying the final
// state; nothing is sent until the transaction has committed.
type changes struct {
	now time.Time

	slotOrder []string
	slots     map[string]slotChange

	tierOrder []model.Quality
	tiers     map[model.Quality]model.TierLimit

	partOrder []string
	parts     map[string]partChange

	extra []realtime.Event
}

type slotChange struct {
	kind changeKind
	slot *model.Slot
}

type partChange struct {
	kind changeKind
	p    *model.Participation
}

func newChanges(now time.Time) *changes {
	return &changes{
		now:   now,
		slots: map[string]slotChange{},
		tiers: map[model.Quality]model.TierLimit{},
		parts: map[string]partChange{},
	}
}

func collapse(prev, next changeKind) (changeKind, bool) {
	switch {
	case prev == changeCreated && next == changeDeleted:
		return 0, false
	case prev == changeCreated:
		return changeCreated, true
	}
	return next, true
}

func (c *changes) slot(kind changeKind, s *model.Slot) {
	prev, seen := c.slots[s.ID]
	if !seen {
		c.slotOrder = append(c.slotOrder, s.ID)
	} else {
		var keep bool
		if kind, keep = collapse(prev.kind, kind); !keep {
			delete(c.slots, s.ID)
			return
		}
	}
	c.slots[s.ID] = slotChange{kind: kind, slot: s.Clone()}
}

func (c *changes) tier(t model.TierLimit) {
	if _, seen := c.tiers[t.Quality]; !seen {
		c.tierOrder = append(c.tierOrder, t.Quality)
	}
	c.tiers[t.Quality] = t
}

func (c *changes) participation(kind changeKind, p *model.Participation) {
	prev, seen := c.parts[p.ID]
	if !seen {
		c.partOrder = append(c.partOrder, p.ID)
	} else {
		var keep bool
		if kind, keep = collapse(prev.kind, kind); !keep {
			delete(c.parts, p.ID)
			return
		}
	}
	cp := *p
	cp.Members = append([]string(nil), p.Members...)
	c.parts[p.ID] = partChange{kind: kind, p: &cp}
}

func (c *changes) add(room, name string, payload any) {
	c.extra = append(c.extra, realtime.Event{Room: room, Name: name, Payload: payload, At: c.now})
}

// SlotSummary is the public view of a slot: no names, only occupancy.
type SlotSummary struct {
	ID        string        `json:"id"`
	Day       int           `json:"day"`
	TimeSlot  string        `json:"time_slot"`
	Quality   model.Quality `json:"quality"`
	Shares    int           `json:"shares"`
	Available int           `json:"available"`
	Completed bool          `json:"completed"`
}

func summarize(s *model.Slot) SlotSummary {
	return SlotSummary{
		ID:        s.ID,
		Day:       s.Day,
		TimeSlot:  s.TimeSlot,
		Quality:   s.Quality,
		Shares:    s.TotalShares(),
		Available: s.Available(),
		Completed: s.Completed,
	}
}

// TierPayload is the body of a shares:updated event.
type TierPayload struct {
	Quality      model.Quality `json:"quality"`
	Max          int           `json:"max"`
	Participated int           `json:"participated"`
	Remaining    int           `json:"remaining"`
}

func (c *changes) events() []realtime.Event {
	var out []realtime.Event
	emit := func(room, name string, payload any) {
		out = append(out, realtime.Event{Room: room, Name: name, Payload: payload, At: c.now})
	}
	for _, q := range c.tierOrder {
		t := c.tiers[q]
		p := TierPayload{Quality: q, Max: t.Max, Participated: t.Participated, Remaining: t.Remaining()}
		emit(realtime.RoomAdmin, realtime.SharesUpdated, p)
		emit(realtime.RoomPublic, realtime.SharesUpdated, p)
	}
	for _, id := range c.slotOrder {
		ch, ok := c.slots[id]
		if !ok {
			continue
		}
		switch ch.kind {
		case changeCreated, changeUpdated:
			name := realtime.SlotUpdated
			if ch.kind == changeCreated {
				name = realtime.SlotCreated
			}
			emit(realtime.RoomAdmin, name, ch.slot)
			emit(realtime.RoomPublic, name, summarize(ch.slot))
		case changeDeleted:
			gone := map[string]any{"id": ch.slot.ID, "day": ch.slot.Day, "time_slot": ch.slot.TimeSlot}
			emit(realtime.RoomAdmin, realtime.SlotDeleted, gone)
			emit(realtime.RoomPublic, realtime.SlotDeleted, gone)
		}
	}
	for _, id := range c.partOrder {
		ch, ok := c.parts[id]
		if !ok {
			continue
		}
		name := realtime.ParticipationUpdated
		var payload any = ch.p
		switch ch.kind {
		case changeCreated:
			name = realtime.ParticipationCreated
		case changeDeleted:
			name = realtime.ParticipationDeleted
			payload = map[string]string{"id": ch.p.ID}
		}
		emit(realtime.RoomAdmin, name, payload)
		emit(realtime.UserRoom(ch.p.UserID), name, payload)
	}
	return append(out, c.extra...)
}
