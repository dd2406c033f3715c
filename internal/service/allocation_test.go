package service

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/realtime"
)

func TestAllocateSingleSlot(t *testing.T) {
	f := newFixture(t)
	f.setLimit(t, model.QualityStandard, 7)

	x := f.paid(t, "u1", model.QualityStandard, 1, 5, "")

	tier := f.tier(t, model.QualityStandard)
	if tier.Participated != 5 || tier.Remaining() != 2 {
		t.Fatalf("ledger = %+v, want participated 5 remaining 2", tier)
	}
	slots := f.slots(t, 1)
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1", len(slots))
	}
	s := slots[0]
	if s.TimeSlot != "08:00 AM - 08:30 AM" || s.TotalShares() != 5 {
		t.Fatalf("slot = %s with %d shares", s.TimeSlot, s.TotalShares())
	}
	if !x.SlotAssigned || x.TimeSlot != "08:00 AM - 08:30 AM" || x.SlotID == nil || *x.SlotID != s.ID {
		t.Fatalf("participation slot = %v %q %v", x.SlotAssigned, x.TimeSlot, x.SlotID)
	}
	f.checkInvariants(t)
}

func TestSubmitBeyondLedgerFailsWithoutWrites(t *testing.T) {
	f := newFixture(t)
	f.setLimit(t, model.QualityStandard, 7)
	f.paid(t, "u1", model.QualityStandard, 1, 5, "")
	f.rec.Reset()

	_, err := f.svc.Participations.Submit(context.Background(), "u2", SubmitRequest{
		CollectorName: "y",
		Quality:       "standard",
		Day:           1,
		Shares:        3,
		Members:       members("y", 3),
		PaymentProof:  "proof",
	})
	wantKind(t, err, KindCapacity)

	if tier := f.tier(t, model.QualityStandard); tier.Participated != 5 {
		t.Fatalf("participated = %d, want 5", tier.Participated)
	}
	if n := len(f.slots(t, 1)); n != 1 {
		t.Fatalf("got %d slots, want 1", n)
	}
	parts, _ := f.svc.Participations.List(context.Background(), model.ParticipationFilter{UserID: "u2"})
	if len(parts) != 0 {
		t.Fatalf("rejected submission stored %d participations", len(parts))
	}
	if evs := f.rec.Events(); len(evs) != 0 {
		t.Fatalf("failed submission emitted %d events", len(evs))
	}
}

func TestAllocateSplitsAcrossSlots(t *testing.T) {
	f := newFixture(t)
	f.setLimit(t, model.QualityStandard, 12)

	z := f.paid(t, "u1", model.QualityStandard, 1, 10, "")

	slots := f.slots(t, 1)
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	if slots[0].TimeSlot != day1[0] || slots[1].TimeSlot != day1[1] {
		t.Fatalf("windows = %s, %s", slots[0].TimeSlot, slots[1].TimeSlot)
	}
	if slots[0].TotalShares() != 7 || slots[1].TotalShares() != 3 {
		t.Fatalf("shares = %d, %d; want 7, 3", slots[0].TotalShares(), slots[1].TotalShares())
	}
	if *z.SlotID != slots[0].ID {
		t.Fatalf("primary slot = %s, want %s", *z.SlotID, slots[0].ID)
	}
	names := append(slices.Clone(slots[0].Participants[0].Names), slots[1].Participants[0].Names...)
	if !slices.Equal(names, z.Members) {
		t.Fatalf("names across slots = %v, want %v", names, z.Members)
	}
	f.checkInvariants(t)
}

func TestAllocatePrefersRequestedWindow(t *testing.T) {
	f := newFixture(t)
	p := f.paid(t, "u1", model.QualityMedium, 2, 3, day2[4])

	if p.TimeSlot != day2[4] {
		t.Fatalf("time slot = %q, want %q", p.TimeSlot, day2[4])
	}
	// the rest of the day is still filled in schedule order
	q := f.paid(t, "u2", model.QualityMedium, 2, 6, day2[4])
	if q.TimeSlot != day2[4] {
		t.Fatalf("second participation primary = %q, want %q", q.TimeSlot, day2[4])
	}
	if s := f.slotAt(t, 2, day2[0]); s.TotalShares() != 2 {
		t.Fatalf("overflow went to %s with %d shares", s.TimeSlot, s.TotalShares())
	}
	f.checkInvariants(t)
}

func TestAllocateSkipsOtherTierSlots(t *testing.T) {
	f := newFixture(t)
	f.paid(t, "u1", model.QualityPremium, 1, 2, "")
	p := f.paid(t, "u2", model.QualityStandard, 1, 4, "")

	if p.TimeSlot != day1[1] {
		t.Fatalf("standard shares landed at %q, want %q", p.TimeSlot, day1[1])
	}
	f.checkInvariants(t)
}

func TestAllocateFailsWhenDayIsFull(t *testing.T) {
	f := newFixture(t)
	f.setLimit(t, model.QualityStandard, 200)
	// fill day 2 completely: 14 windows of 7
	for i := 0; i < len(day2); i++ {
		f.paid(t, "u1", model.QualityStandard, 2, 7, "")
	}
	p := f.submit(t, "u2", model.QualityStandard, 2, 1, "")
	f.rec.Reset()

	_, err := f.svc.Participations.SetPaymentStatus(context.Background(), p.ID, model.PaymentCompleted)
	wantKind(t, err, KindCapacity)

	got := f.participation(t, p.ID)
	if got.PaymentStatus != model.PaymentPending || got.SlotAssigned {
		t.Fatalf("after failed allocation: status %s assigned %v", got.PaymentStatus, got.SlotAssigned)
	}
	if evs := f.rec.Events(); len(evs) != 0 {
		t.Fatalf("failed allocation emitted %d events", len(evs))
	}
	f.checkInvariants(t)
}

func TestConcurrentSubmissionsDoNotOversell(t *testing.T) {
	f := newFixture(t)
	f.setLimit(t, model.QualityStandard, 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Participations.Submit(context.Background(), "u", SubmitRequest{
				CollectorName: "c",
				Quality:       "Standard",
				Day:           1,
				Shares:        3,
				Members:       members("m", 3),
				PaymentProof:  "proof",
			})
		}(i)
	}
	wg.Wait()

	ok, capacity := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case KindOf(err) == KindCapacity:
			capacity++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || capacity != 1 {
		t.Fatalf("ok = %d capacity = %d, want 1 and 1", ok, capacity)
	}
	if tier := f.tier(t, model.QualityStandard); tier.Participated != 3 {
		t.Fatalf("participated = %d, want 3", tier.Participated)
	}
}

func TestAvailableReportsPerTier(t *testing.T) {
	f := newFixture(t)
	f.paid(t, "u1", model.QualityStandard, 1, 5, "")

	std, err := f.svc.Allocator.Available(context.Background(), 1, model.QualityStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(std) != len(day1) {
		t.Fatalf("got %d windows, want %d", len(std), len(day1))
	}
	if std[0].Available != 2 || std[0].SlotID == nil || std[1].Available != 7 {
		t.Fatalf("standard availability = %+v, %+v", std[0], std[1])
	}
	med, err := f.svc.Allocator.Available(context.Background(), 1, model.QualityMedium)
	if err != nil {
		t.Fatal(err)
	}
	if med[0].Available != 0 {
		t.Fatalf("medium can use a standard slot: %+v", med[0])
	}

	_, err = f.svc.Allocator.Available(context.Background(), 3, "")
	wantKind(t, err, KindValidation)
}

func TestAllocationNotifiesAdminAndPublic(t *testing.T) {
	f := newFixture(t)
	p := f.submit(t, "u1", model.QualityStandard, 1, 2, "")
	f.rec.Reset()

	if _, err := f.svc.Participations.SetPaymentStatus(context.Background(), p.ID, model.PaymentCompleted); err != nil {
		t.Fatal(err)
	}
	admin := f.rec.Named(realtime.SlotCreated, realtime.RoomAdmin)
	public := f.rec.Named(realtime.SlotCreated, realtime.RoomPublic)
	if len(admin) != 1 || len(public) != 1 {
		t.Fatalf("slot:created admin %d public %d", len(admin), len(public))
	}
	if _, ok := admin[0].Payload.(*model.Slot); !ok {
		t.Fatalf("admin payload is %T", admin[0].Payload)
	}
	if sum, ok := public[0].Payload.(SlotSummary); !ok || sum.Shares != 2 {
		t.Fatalf("public payload = %#v", public[0].Payload)
	}
	if evs := f.rec.Named(realtime.ParticipationUpdated, realtime.UserRoom("u1")); len(evs) != 1 {
		t.Fatalf("user room got %d participation updates", len(evs))
	}
	// created and updated within one transaction collapse into one event
	if evs := f.rec.Named(realtime.SlotUpdated, ""); len(evs) != 0 {
		t.Fatalf("got %d slot:updated events", len(evs))
	}
}
