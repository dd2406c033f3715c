// Package realtime delivers state changes to connected observers.  Services
// hand events to a Notifier after their transaction commits; delivery is
// best effort and never feeds back into the operation that produced it.
package realtime

import (
	"context"
	"sync"
	"time"
)

// Rooms every observer can be subscribed to.  Per-user rooms are built with
// UserRoom.
const (
	RoomAdmin  = "admin"
	RoomPublic = "public"
)

// UserRoom names the private room of one user.
func UserRoom(userID string) string { return "user:" + userID }

// Event names.
const (
	SlotCreated          = "slot:created"
	SlotUpdated          = "slot:updated"
	SlotDeleted          = "slot:deleted"
	SlotCompleted        = "slot:completed"
	SharesUpdated        = "shares:updated"
	ParticipationCreated = "participation:created"
	ParticipationUpdated = "participation:updated"
	ParticipationDeleted = "participation:deleted"
	CompletionCreated    = "completion:created"
)

// Event is one message addressed to a room.
type Event struct {
	Room    string    `json:"room"`
	Name    string    `json:"event"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Notifier accepts events for delivery.  Implementations must not block the
// caller for long and must not report delivery failures back.
type Notifier interface {
	Notify(ctx context.Context, events []Event)
}

// Discard drops every event.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(context.Context, []Event) {}

// Recorder keeps every event it is given.  It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, events []Event) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

// Events returns a copy of what was recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events with the given name, optionally limited
// to one room.
func (r *Recorder) Named(name, room string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name && (room == "" || e.Room == room) {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
