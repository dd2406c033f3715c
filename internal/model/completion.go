package model

import "time"

// CompletionRecord is appended to a user's profile when a slot holding their
// shares is processed.  There is at most one record per user and slot.
type CompletionRecord struct {
	ID               string    `json:"id" bson:"_id"`
	UserID           string    `json:"user_id" bson:"user_id"`
	SlotID           string    `json:"slot_id" bson:"slot_id"`
	Day              int       `json:"day" bson:"day"`
	TimeSlot         string    `json:"time_slot" bson:"time_slot"`
	ParticipationIDs []string  `json:"participation_ids" bson:"participation_ids"`
	CollectorName    string    `json:"collector_name" bson:"collector_name"`
	Names            []string  `json:"names" bson:"names"`
	Message          string    `json:"message" bson:"message"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
}
