package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/realtime"
	"github.com/qurbani/slot-allocation/internal/repository"
)

var (
	day1 = model.TimeSlots(1)
	day2 = model.TimeSlots(2)
)

type fixture struct {
	svc   *Services
	store *repository.MemoryStore
	rec   *realtime.Recorder
}

type fixtureOption func(*Options)

func withRelease() fixtureOption {
	return func(o *Options) { o.ReleaseOnRemoval = true }
}

func withPublisher(p CompletionPublisher) fixtureOption {
	return func(o *Options) { o.Publisher = p }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	var mu sync.Mutex
	seq := 0
	clock := time.Date(2025, 6, 6, 8, 0, 0, 0, time.UTC)
	o := Options{
		DefaultTierMax: 100,
		Prices: map[model.Quality]decimal.Decimal{
			model.QualityStandard: decimal.NewFromInt(150),
			model.QualityMedium:   decimal.NewFromInt(200),
			model.QualityPremium:  decimal.NewFromInt(250),
		},
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	f := &fixture{store: repository.NewMemoryStore(), rec: &realtime.Recorder{}}
	f.svc = New(f.store, f.rec, o)
	return f
}

func members(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func (f *fixture) setLimit(t *testing.T, q model.Quality, max int) {
	t.Helper()
	if _, err := f.svc.Ledger.SetLimit(context.Background(), q, max); err != nil {
		t.Fatalf("SetLimit(%s, %d): %v", q, max, err)
	}
}

func (f *fixture) submit(t *testing.T, user string, q model.Quality, day, shares int, preferred string) *model.Participation {
	t.Helper()
	p, err := f.svc.Participations.Submit(context.Background(), user, SubmitRequest{
		CollectorName:     "collector " + user,
		Quality:           string(q),
		Day:               day,
		Shares:            shares,
		Members:           members(user+"-", shares),
		PaymentProof:      "receipt.jpg",
		PreferredTimeSlot: preferred,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return p
}

// paid submits a participation and confirms its payment.
func (f *fixture) paid(t *testing.T, user string, q model.Quality, day, shares int, preferred string) *model.Participation {
	t.Helper()
	p := f.submit(t, user, q, day, shares, preferred)
	res, err := f.svc.Participations.SetPaymentStatus(context.Background(), p.ID, model.PaymentCompleted)
	if err != nil {
		t.Fatalf("confirm payment of %s: %v", p.ID, err)
	}
	return res.Participation
}

func (f *fixture) participation(t *testing.T, id string) *model.Participation {
	t.Helper()
	p, err := f.svc.Participations.Get(context.Background(), id, "", true)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return p
}

func (f *fixture) slots(t *testing.T, day int) []*model.Slot {
	t.Helper()
	slots, err := f.svc.Allocator.ListSlots(context.Background(), day)
	if err != nil {
		t.Fatalf("ListSlots(%d): %v", day, err)
	}
	return slots
}

func (f *fixture) slotAt(t *testing.T, day int, label string) *model.Slot {
	t.Helper()
	for _, s := range f.slots(t, day) {
		if s.TimeSlot == label {
			return s
		}
	}
	t.Fatalf("no slot at day %d %s", day, label)
	return nil
}

func (f *fixture) tier(t *testing.T, q model.Quality) model.TierLimit {
	t.Helper()
	l, err := f.svc.Ledger.Limits(context.Background())
	if err != nil {
		t.Fatalf("Limits: %v", err)
	}
	return l.Tiers[q]
}

// checkInvariants asserts what must hold after every operation: no slot over
// capacity, every entry in its participation's tier and day, every paid
// participation fully placed with names matching its members.
func (f *fixture) checkInvariants(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	slots := f.slots(t, 0)
	parts, err := f.svc.Participations.List(ctx, model.ParticipationFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	byID := map[string]*model.Participation{}
	for _, p := range parts {
		byID[p.ID] = p
	}
	placed := map[string]int{}
	for _, s := range slots {
		if s.TotalShares() > model.SlotCapacity {
			t.Errorf("slot %s holds %d shares", s.ID, s.TotalShares())
		}
		if s.Empty() {
			t.Errorf("empty slot %s was kept", s.ID)
		}
		for _, e := range s.Participants {
			p, ok := byID[e.ParticipationID]
			if !ok {
				t.Errorf("slot %s references unknown participation %s", s.ID, e.ParticipationID)
				continue
			}
			if p.Day != s.Day {
				t.Errorf("participation %s is on day %d but holds shares in day %d slot %s", p.ID, p.Day, s.Day, s.ID)
			}
			if p.Quality != s.Quality {
				t.Errorf("%s shares of %s sit in %s slot %s", p.Quality, p.ID, s.Quality, s.ID)
			}
			if e.Shares != len(e.Names) || e.Shares != len(e.MemberIndexes) {
				t.Errorf("entry %s in slot %s: shares %d names %d", p.ID, s.ID, e.Shares, len(e.Names))
			}
			for i, idx := range e.MemberIndexes {
				if idx >= len(p.Members) || p.Members[idx] != e.Names[i] {
					t.Errorf("entry %s in slot %s: name %d out of step", p.ID, s.ID, i)
				}
			}
			placed[p.ID] += e.Shares
		}
	}
	for _, p := range parts {
		if p.Shares != len(p.Members) {
			t.Errorf("participation %s: shares %d members %d", p.ID, p.Shares, len(p.Members))
		}
		if p.PaymentStatus == model.PaymentCompleted && placed[p.ID] != p.Shares {
			t.Errorf("participation %s: %d of %d shares placed", p.ID, placed[p.ID], p.Shares)
		}
		if p.PaymentStatus != model.PaymentCompleted && placed[p.ID] != 0 {
			t.Errorf("unpaid participation %s holds %d shares", p.ID, placed[p.ID])
		}
		if p.SlotAssigned != (placed[p.ID] > 0) {
			t.Errorf("participation %s: slot_assigned %v with %d placed", p.ID, p.SlotAssigned, placed[p.ID])
		}
	}
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("error kind = %q (%v), want %q", got, err, kind)
	}
}
