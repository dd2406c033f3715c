// Package queue carries slot completion messages over RabbitMQ: a publisher
// used after a completion commits and a consumer that records them.
package queue

// CompletedQueue is the durable queue completion messages are published to.
const CompletedQueue = "slot.completed"

// SlotCompletedMessage is published once per user when a slot holding their
// shares has been processed.  It carries enough for downstream consumers
// (mail, reports) to act without querying the primary store.
type SlotCompletedMessage struct {
	CompletionID     string   `json:"completion_id"`
	UserID           string   `json:"user_id"`
	SlotID           string   `json:"slot_id"`
	Day              int      `json:"day"`
	TimeSlot         string   `json:"time_slot"`
	Quality          string   `json:"quality"`
	ParticipationIDs []string `json:"participation_ids"`
	CollectorName    string   `json:"collector_name"`
	Names            []string `json:"names"`
	Message          string   `json:"message"`
	CompletedAt      string   `json:"completed_at"`
}
