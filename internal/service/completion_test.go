package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/queue"
	"github.com/qurbani/slot-allocation/internal/realtime"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls int
	msgs  []queue.SlotCompletedMessage
	err   error
}

func (p *fakePublisher) PublishCompleted(_ context.Context, msgs []queue.SlotCompletedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.msgs = append(p.msgs, msgs...)
	return p.err
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	pub := &fakePublisher{}
	f := newFixture(t, withPublisher(pub))
	ctx := context.Background()
	a := f.paid(t, "u1", model.QualityStandard, 1, 2, day1[0])
	b := f.paid(t, "u1", model.QualityStandard, 1, 1, day1[0])
	c := f.paid(t, "u2", model.QualityStandard, 1, 2, day1[0])
	s := f.slotAt(t, 1, day1[0])

	res, err := f.svc.Completions.MarkCompleted(ctx, s.ID)
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if res.AlreadyCompleted || !res.Slot.Completed || res.Slot.CompletedAt == nil {
		t.Fatalf("first call = %+v", res)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want one per user", len(res.Records))
	}
	u1 := res.Records[0]
	if u1.UserID != "u1" || !slices.Equal(u1.ParticipationIDs, []string{a.ID, b.ID}) {
		t.Fatalf("u1 record = %+v", u1)
	}
	if want := append(slices.Clone(a.Members), b.Members...); !slices.Equal(u1.Names, want) {
		t.Fatalf("u1 names = %v, want %v", u1.Names, want)
	}
	if u1.Message == "" || u1.TimeSlot != day1[0] || u1.Day != 1 {
		t.Fatalf("u1 record = %+v", u1)
	}

	again, err := f.svc.Completions.MarkCompleted(ctx, s.ID)
	if err != nil {
		t.Fatalf("second MarkCompleted: %v", err)
	}
	if !again.AlreadyCompleted || len(again.Records) != 0 {
		t.Fatalf("second call = %+v", again)
	}

	for user, want := range map[string]int{"u1": 1, "u2": 1} {
		recs, err := f.svc.Completions.ListForUser(ctx, user)
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != want {
			t.Fatalf("%s has %d records, want %d", user, len(recs), want)
		}
	}
	if recs, _ := f.svc.Completions.ListForUser(ctx, c.UserID); recs[0].SlotID != s.ID {
		t.Fatalf("u2 record = %+v", recs[0])
	}

	if pub.calls != 1 || len(pub.msgs) != 2 {
		t.Fatalf("publisher got %d calls with %d messages", pub.calls, len(pub.msgs))
	}
	if pub.msgs[1].UserID != "u2" || pub.msgs[1].Quality != "Standard" || pub.msgs[1].CompletedAt == "" {
		t.Fatalf("message = %+v", pub.msgs[1])
	}

	for _, room := range []string{realtime.UserRoom("u1"), realtime.UserRoom("u2")} {
		if evs := f.rec.Named(realtime.CompletionCreated, room); len(evs) != 1 {
			t.Fatalf("%s got %d completion events", room, len(evs))
		}
	}
	admin := f.rec.Named(realtime.SlotCompleted, realtime.RoomAdmin)
	if len(admin) != 1 {
		t.Fatalf("admin got %d slot:completed events", len(admin))
	}
	if sum := admin[0].Payload.(CompletionSummary); sum.Users != 2 || len(sum.Names) != 5 {
		t.Fatalf("admin summary = %+v", sum)
	}
}

func TestMarkCompletedSurvivesPublisherFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	f := newFixture(t, withPublisher(pub))
	f.paid(t, "u1", model.QualityMedium, 2, 3, "")
	s := f.slotAt(t, 2, day2[0])

	if _, err := f.svc.Completions.MarkCompleted(context.Background(), s.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if !f.slotAt(t, 2, day2[0]).Completed {
		t.Fatal("slot not completed")
	}
}

func TestMarkCompletedUnknownSlot(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Completions.MarkCompleted(context.Background(), "missing")
	wantKind(t, err, KindNotFound)
}

func TestConcurrentMarkCompletedRecordsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.paid(t, "u1", model.QualityPremium, 1, 4, "")
	s := f.slotAt(t, 1, day1[0])

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Completions.MarkCompleted(ctx, s.ID); err != nil {
				t.Errorf("MarkCompleted: %v", err)
			}
		}()
	}
	wg.Wait()

	recs, err := f.svc.Completions.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
}
