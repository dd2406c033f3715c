package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/queue"
	"github.com/qurbani/slot-allocation/internal/realtime"
)

// CompletionTracker marks slots as processed and records that on the
// profile of every user with shares in them.
type CompletionTracker struct {
	r *runner
}

// CompletionResult reports a MarkCompleted call.  AlreadyCompleted is set
// when the slot had been completed before and nothing was written.
type CompletionResult struct {
	Slot             *model.Slot               `json:"slot"`
	Records          []*model.CompletionRecord `json:"records"`
	AlreadyCompleted bool                      `json:"already_completed"`
}

// CompletionSummary is the admin-facing body of a slot:completed event.
type CompletionSummary struct {
	Slot  SlotSummary `json:"slot"`
	Users int         `json:"users"`
	Names []string    `json:"names"`
}

// MarkCompleted flips a slot to completed and appends one completion record
// per distinct user holding shares in it.  Calling it again is a no-op, and
// the (user, slot) check plus the store's unique key keep concurrent calls
// from recording a user twice.  Queue messages go out after commit.
func (c *CompletionTracker) MarkCompleted(ctx context.Context, slotID string) (*CompletionResult, error) {
	var out *CompletionResult
	var msgs []queue.SlotCompletedMessage
	err := c.r.run(ctx, func(ctx context.Context, t *txn) error {
		msgs = nil
		s, err := t.getSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if s.Completed {
			out = &CompletionResult{Slot: s, AlreadyCompleted: true}
			return nil
		}
		now := t.now
		s.Completed = true
		s.CompletedAt = &now
		if err := t.tx.UpdateSlot(ctx, s); err != nil {
			return err
		}
		t.ch.slot(changeUpdated, s)

		res := &CompletionResult{Slot: s}
		var allNames []string
		for _, g := range groupByUser(s) {
			allNames = append(allNames, g.names...)
			has, err := t.tx.HasCompletion(ctx, g.userID, s.ID)
			if err != nil {
				return err
			}
			if has {
				continue
			}
			rec := &model.CompletionRecord{
				ID:               t.newID(),
				UserID:           g.userID,
				SlotID:           s.ID,
				Day:              s.Day,
				TimeSlot:         s.TimeSlot,
				ParticipationIDs: g.participations,
				CollectorName:    g.collector,
				Names:            g.names,
				Message:          completionMessage(s, g.names),
				CreatedAt:        now,
			}
			if err := t.tx.CreateCompletion(ctx, rec); err != nil {
				return err
			}
			res.Records = append(res.Records, rec)
			t.ch.add(realtime.UserRoom(g.userID), realtime.CompletionCreated, rec)
			msgs = append(msgs, completedMessage(rec, s))
		}
		t.ch.add(realtime.RoomAdmin, realtime.SlotCompleted, CompletionSummary{
			Slot:  summarize(s),
			Users: len(res.Records),
			Names: allNames,
		})
		t.ch.add(realtime.RoomPublic, realtime.SlotCompleted, summarize(s))
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, msgs)
	return out, nil
}

func (c *CompletionTracker) publish(ctx context.Context, msgs []queue.SlotCompletedMessage) {
	pub := c.r.opts.Publisher
	if pub == nil || len(msgs) == 0 {
		return
	}
	if err := pub.PublishCompleted(ctx, msgs); err != nil {
		c.r.opts.Logger.Error("publish completion messages", "count", len(msgs), "err", err)
	}
}

// ListForUser returns the completion records of one user, oldest first.
func (c *CompletionTracker) ListForUser(ctx context.Context, userID string) ([]*model.CompletionRecord, error) {
	var out []*model.CompletionRecord
	err := c.r.view(ctx, func(ctx context.Context, t *txn) error {
		recs, err := t.tx.ListCompletions(ctx, userID)
		out = recs
		return err
	})
	if out == nil && err == nil {
		out = []*model.CompletionRecord{}
	}
	return out, err
}

type userGroup struct {
	userID         string
	collector      string
	participations []string
	names          []string
}

// groupByUser folds the entries of s per owning user in entry order.
func groupByUser(s *model.Slot) []*userGroup {
	var out []*userGroup
	byUser := map[string]*userGroup{}
	for _, e := range s.Participants {
		g, ok := byUser[e.UserID]
		if !ok {
			g = &userGroup{userID: e.UserID, collector: e.CollectorName}
			byUser[e.UserID] = g
			out = append(out, g)
		}
		g.participations = append(g.participations, e.ParticipationID)
		g.names = append(g.names, e.Names...)
	}
	return out
}

func completionMessage(s *model.Slot, names []string) string {
	return fmt.Sprintf("Qurbani completed on day %d at %s for %s", s.Day, s.TimeSlot, strings.Join(names, ", "))
}

func completedMessage(rec *model.CompletionRecord, s *model.Slot) queue.SlotCompletedMessage {
	return queue.SlotCompletedMessage{
		CompletionID:     rec.ID,
		UserID:           rec.UserID,
		SlotID:           rec.SlotID,
		Day:              rec.Day,
		TimeSlot:         rec.TimeSlot,
		Quality:          string(s.Quality),
		ParticipationIDs: rec.ParticipationIDs,
		CollectorName:    rec.CollectorName,
		Names:            rec.Names,
		Message:          rec.Message,
		CompletedAt:      rec.CreatedAt.Format(time.RFC3339),
	}
}
