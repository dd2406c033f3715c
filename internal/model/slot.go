package model

import (
	"slices"
	"time"
)

// ParticipantAllocation is the part of a participation that sits in one slot.
// Names and Shares are a projection of Participation.Members through
// MemberIndexes; they are rebuilt whenever the participation's names change.
type ParticipantAllocation struct {
	ParticipationID string   `json:"participation_id" bson:"participation_id"`
	UserID          string   `json:"user_id" bson:"user_id"`
	CollectorName   string   `json:"collector_name" bson:"collector_name"`
	Names           []string `json:"names" bson:"names"`
	MemberIndexes   []int    `json:"member_indexes" bson:"member_indexes"`
	Shares          int      `json:"shares" bson:"shares"`
}

// MergeEntry records one piece of a merge so it can be reversed: what moved,
// for which participation and where it came from.
type MergeEntry struct {
	SourceSlotID    string    `json:"source_slot_id" bson:"source_slot_id"`
	SourceDay       int       `json:"source_day" bson:"source_day"`
	SourceTimeSlot  string    `json:"source_time_slot" bson:"source_time_slot"`
	ParticipationID string    `json:"participation_id" bson:"participation_id"`
	CollectorName   string    `json:"collector_name" bson:"collector_name"`
	Names           []string  `json:"names" bson:"names"`
	MemberIndexes   []int     `json:"member_indexes" bson:"member_indexes"`
	Shares          int       `json:"shares" bson:"shares"`
	MergedAt        time.Time `json:"merged_at" bson:"merged_at"`
}

// Slot is one physical collection window on a day, holding up to
// SlotCapacity shares of a single tier.
//
// Fields:
//
//	ID           – slot identifier (uuid).
//	Day          – sacrifice day.
//	TimeSlot     – window label from the day's schedule.
//	Quality      – tier every allocation in the slot belongs to.
//	Participants – allocations; their shares never exceed SlotCapacity.
//	Completed    – set once the slot has been processed.
//	MergeHistory – entries moved in by the last merges, used by undo.
//	MergedAt     – time of the latest merge into this slot.
//	Version      – bumped on every write for optimistic concurrency.
type Slot struct {
	ID           string                  `json:"id" bson:"_id"`
	Day          int                     `json:"day" bson:"day"`
	TimeSlot     string                  `json:"time_slot" bson:"time_slot"`
	Quality      Quality                 `json:"quality" bson:"quality"`
	Participants []ParticipantAllocation `json:"participants" bson:"participants"`
	Completed    bool                    `json:"completed" bson:"completed"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	MergeHistory []MergeEntry            `json:"merge_history,omitempty" bson:"merge_history,omitempty"`
	MergedAt     *time.Time              `json:"merged_at,omitempty" bson:"merged_at,omitempty"`
	Version      int64                   `json:"version" bson:"version"`
	CreatedAt    time.Time               `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at" bson:"updated_at"`
}

// TotalShares sums the shares of every allocation in the slot.
func (s *Slot) TotalShares() int {
	n := 0
	for _, p := range s.Participants {
		n += p.Shares
	}
	return n
}

// Available is the number of shares the slot can still take.
func (s *Slot) Available() int {
	if free := SlotCapacity - s.TotalShares(); free > 0 {
		return free
	}
	return 0
}

// Empty reports whether the slot holds no allocations.
func (s *Slot) Empty() bool { return len(s.Participants) == 0 }

// Entry returns the index of the allocation for participationID, or -1.
func (s *Slot) Entry(participationID string) int {
	for i, p := range s.Participants {
		if p.ParticipationID == participationID {
			return i
		}
	}
	return -1
}

// ParticipationIDs returns the distinct participations in the slot, in
// allocation order.
func (s *Slot) ParticipationIDs() []string {
	ids := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		ids = append(ids, p.ParticipationID)
	}
	return ids
}

// Clone returns a deep copy of the slot.
func (s *Slot) Clone() *Slot {
	c := *s
	c.Participants = make([]ParticipantAllocation, len(s.Participants))
	for i, p := range s.Participants {
		c.Participants[i] = p.Clone()
	}
	if s.MergeHistory != nil {
		c.MergeHistory = make([]MergeEntry, len(s.MergeHistory))
		for i, m := range s.MergeHistory {
			m.Names = append([]string(nil), m.Names...)
			m.MemberIndexes = append([]int(nil), m.MemberIndexes...)
			c.MergeHistory[i] = m
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.MergedAt != nil {
		t := *s.MergedAt
		c.MergedAt = &t
	}
	return &c
}

// Clone returns a copy that shares no slices with p.
func (p ParticipantAllocation) Clone() ParticipantAllocation {
	p.Names = append([]string(nil), p.Names...)
	p.MemberIndexes = append([]int(nil), p.MemberIndexes...)
	return p
}

// Equal reports whether p and o hold the same members with the same
// projected names.
func (p ParticipantAllocation) Equal(o ParticipantAllocation) bool {
	return p.ParticipationID == o.ParticipationID &&
		p.UserID == o.UserID &&
		p.CollectorName == o.CollectorName &&
		p.Shares == o.Shares &&
		slices.Equal(p.Names, o.Names) &&
		slices.Equal(p.MemberIndexes, o.MemberIndexes)
}

// SlotAvailability reports how many shares of a tier a window can still take.
type SlotAvailability struct {
	TimeSlot  string  `json:"time_slot"`
	SlotID    *string `json:"slot_id,omitempty"`
	Quality   Quality `json:"quality,omitempty"`
	Available int     `json:"available"`
}
