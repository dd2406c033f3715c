package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participation records one purchase of shares.  It is created Pending on
// submission and only takes part in slot allocation once an admin marks the
// payment Completed.
//
// Fields:
//
//	ID                – participation identifier (uuid).
//	UserID            – owner of the participation.
//	CollectorName     – person who collects the meat for the group.
//	Quality           – tier the shares were bought in.
//	Day               – sacrifice day (1 or 2).
//	Shares            – number of shares bought; always len(Members).
//	Members           – participant display names in submission order.
//	TotalAmount       – amount due for all shares.
//	PaymentStatus     – Pending, Completed or Rejected.
//	PaymentProof      – opaque reference to the uploaded proof of payment.
//	PreferredTimeSlot – window the user asked for; a soft preference.
//	SlotID            – primary slot, the first slot the shares landed in.
//	TimeSlot          – window label of the primary slot.
//	SlotAssigned      – true while at least one slot holds the shares.
//	Reserved          – true while the shares are counted in the ledger.
type Participation struct {
	ID                string          `json:"id" bson:"_id"`
	UserID            string          `json:"user_id" bson:"user_id"`
	CollectorName     string          `json:"collector_name" bson:"collector_name"`
	Quality           Quality         `json:"quality" bson:"quality"`
	Day               int             `json:"day" bson:"day"`
	Shares            int             `json:"shares" bson:"shares"`
	Members           []string        `json:"members" bson:"members"`
	TotalAmount       decimal.Decimal `json:"total_amount" bson:"total_amount"`
	PaymentStatus     PaymentStatus   `json:"payment_status" bson:"payment_status"`
	PaymentProof      string          `json:"payment_proof,omitempty" bson:"payment_proof,omitempty"`
	PreferredTimeSlot string          `json:"preferred_time_slot,omitempty" bson:"preferred_time_slot,omitempty"`
	SlotID            *string         `json:"slot_id" bson:"slot_id"`
	TimeSlot          string          `json:"time_slot,omitempty" bson:"time_slot,omitempty"`
	SlotAssigned      bool            `json:"slot_assigned" bson:"slot_assigned"`
	Reserved          bool            `json:"-" bson:"reserved"`
	CreatedAt         time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" bson:"updated_at"`
}

// ClearSlot drops the primary slot reference.
func (p *Participation) ClearSlot() {
	p.SlotID = nil
	p.TimeSlot = ""
	p.SlotAssigned = false
}

// AssignSlot points the participation at its primary slot.
func (p *Participation) AssignSlot(s *Slot) {
	id := s.ID
	p.SlotID = &id
	p.TimeSlot = s.TimeSlot
	p.SlotAssigned = true
}

// UnitPrice is the amount paid per share.
func (p *Participation) UnitPrice() decimal.Decimal {
	if p.Shares == 0 {
		return decimal.Zero
	}
	return p.TotalAmount.Div(decimal.NewFromInt(int64(p.Shares)))
}

// ParticipationFilter narrows participation listings.  Zero values match all.
type ParticipationFilter struct {
	UserID string
	Status PaymentStatus
	Day    int
}
