package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/realtime"
)

func TestSubmitValidates(t *testing.T) {
	f := newFixture(t)
	valid := SubmitRequest{
		CollectorName: "Ahmed",
		Quality:       "Premium",
		Day:           1,
		Shares:        2,
		Members:       []string{"a", "b"},
		PaymentProof:  "proof.png",
	}
	cases := map[string]func(r *SubmitRequest){
		"no collector":      func(r *SubmitRequest) { r.CollectorName = " " },
		"unknown quality":   func(r *SubmitRequest) { r.Quality = "gold" },
		"unknown day":       func(r *SubmitRequest) { r.Day = 3 },
		"no shares":         func(r *SubmitRequest) { r.Shares, r.Members = 0, nil },
		"member count":      func(r *SubmitRequest) { r.Members = []string{"a"} },
		"blank member":      func(r *SubmitRequest) { r.Members = []string{"a", ""} },
		"no proof":          func(r *SubmitRequest) { r.PaymentProof = "" },
		"foreign time slot": func(r *SubmitRequest) { r.PreferredTimeSlot = "06:00 AM - 06:30 AM" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid
			req.Members = append([]string(nil), valid.Members...)
			mutate(&req)
			_, err := f.svc.Participations.Submit(context.Background(), "u1", req)
			wantKind(t, err, KindValidation)
		})
	}

	_, err := f.svc.Participations.Submit(context.Background(), "", valid)
	wantKind(t, err, KindForbidden)

	p, err := f.svc.Participations.Submit(context.Background(), "u1", valid)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if p.PaymentStatus != model.PaymentPending || p.SlotAssigned || !p.TotalAmount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("participation = %+v", p)
	}
	if tier := f.tier(t, model.QualityPremium); tier.Participated != 2 {
		t.Fatalf("participated = %d, want 2", tier.Participated)
	}
	if evs := f.rec.Named(realtime.ParticipationCreated, realtime.UserRoom("u1")); len(evs) != 1 {
		t.Fatalf("got %d participation:created events", len(evs))
	}
	if evs := f.rec.Named(realtime.SharesUpdated, realtime.RoomPublic); len(evs) != 1 {
		t.Fatalf("got %d public shares:updated events", len(evs))
	}
}

func TestRejectingPaidParticipationDeallocates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.paid(t, "u1", model.QualityStandard, 1, 3, "")

	res, err := f.svc.Participations.SetPaymentStatus(ctx, p.ID, model.PaymentRejected)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Participation.SlotAssigned || res.Participation.SlotID != nil {
		t.Fatalf("rejected participation still assigned: %+v", res.Participation)
	}
	if n := len(f.slots(t, 0)); n != 0 {
		t.Fatalf("%d slots left", n)
	}
	if tier := f.tier(t, model.QualityStandard); tier.Participated != 3 {
		t.Fatalf("participated = %d, rejection must not release by default", tier.Participated)
	}

	// reinstating allocates again without counting the shares twice
	if _, err := f.svc.Participations.SetPaymentStatus(ctx, p.ID, model.PaymentCompleted); err != nil {
		t.Fatalf("re-confirm: %v", err)
	}
	if tier := f.tier(t, model.QualityStandard); tier.Participated != 3 {
		t.Fatalf("participated = %d after re-confirm", tier.Participated)
	}
	f.checkInvariants(t)
}

func TestRejectReleasesWhenConfigured(t *testing.T) {
	f := newFixture(t, withRelease())
	ctx := context.Background()
	f.setLimit(t, model.QualityStandard, 3)
	p := f.submit(t, "u1", model.QualityStandard, 1, 3, "")

	if _, err := f.svc.Participations.SetPaymentStatus(ctx, p.ID, model.PaymentRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if tier := f.tier(t, model.QualityStandard); tier.Participated != 0 {
		t.Fatalf("participated = %d, want 0", tier.Participated)
	}

	other := f.submit(t, "u2", model.QualityStandard, 1, 3, "")
	_, err := f.svc.Participations.SetPaymentStatus(ctx, p.ID, model.PaymentPending)
	wantKind(t, err, KindCapacity)

	if _, err := f.svc.Participations.SetPaymentStatus(ctx, other.ID, model.PaymentCompleted); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	f.checkInvariants(t)
}

func TestPaymentStatusEdgeCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.paid(t, "u1", model.QualityStandard, 1, 2, "")
	f.rec.Reset()

	res, err := f.svc.Participations.SetPaymentStatus(ctx, p.ID, model.PaymentCompleted)
	if err != nil || len(res.Allocations) != 0 {
		t.Fatalf("repeat confirm = %+v, %v", res, err)
	}
	if n := len(f.rec.Events()); n != 0 {
		t.Fatalf("repeat confirm emitted %d events", n)
	}

	_, err = f.svc.Participations.SetPaymentStatus(ctx, p.ID, model.PaymentStatus("Refunded"))
	wantKind(t, err, KindValidation)
	_, err = f.svc.Participations.SetPaymentStatus(ctx, "missing", model.PaymentCompleted)
	wantKind(t, err, KindNotFound)

	s := f.slotAt(t, 1, day1[0])
	if _, err := f.svc.Completions.MarkCompleted(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Participations.SetPaymentStatus(ctx, p.ID, model.PaymentPending)
	wantKind(t, err, KindConflict)
}

func TestGetHidesOtherUsersParticipations(t *testing.T) {
	f := newFixture(t)
	p := f.submit(t, "u1", model.QualityStandard, 1, 1, "")

	if _, err := f.svc.Participations.Get(context.Background(), p.ID, "u1", false); err != nil {
		t.Fatalf("owner Get: %v", err)
	}
	_, err := f.svc.Participations.Get(context.Background(), p.ID, "u2", false)
	wantKind(t, err, KindForbidden)
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	f.paid(t, "u1", model.QualityStandard, 1, 1, "")
	f.submit(t, "u1", model.QualityStandard, 2, 1, "")
	f.submit(t, "u2", model.QualityMedium, 1, 1, "")
	ctx := context.Background()

	pending, err := f.svc.Participations.List(ctx, model.ParticipationFilter{Status: model.PaymentPending})
	if err != nil || len(pending) != 2 {
		t.Fatalf("pending = %d, %v", len(pending), err)
	}
	mine, _ := f.svc.Participations.List(ctx, model.ParticipationFilter{UserID: "u1"})
	if len(mine) != 2 {
		t.Fatalf("u1 has %d participations", len(mine))
	}
	_, err = f.svc.Participations.List(ctx, model.ParticipationFilter{Status: "nope"})
	wantKind(t, err, KindValidation)
}

func TestLedgerSetLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, "u1", model.QualityMedium, 1, 4, "")

	_, err := f.svc.Ledger.SetLimit(ctx, model.QualityMedium, 3)
	wantKind(t, err, KindValidation)
	_, err = f.svc.Ledger.SetLimit(ctx, "Gold", 3)
	wantKind(t, err, KindValidation)

	lim, err := f.svc.Ledger.SetLimit(ctx, model.QualityMedium, 4)
	if err != nil {
		t.Fatal(err)
	}
	if lim.Remaining() != 0 {
		t.Fatalf("remaining = %d", lim.Remaining())
	}
	_, err = f.svc.Participations.Submit(ctx, "u2", SubmitRequest{
		CollectorName: "c", Quality: "Medium", Day: 1, Shares: 1, Members: []string{"m"}, PaymentProof: "p",
	})
	wantKind(t, err, KindCapacity)
	if err.Error() != "the Medium tier is closed" {
		t.Fatalf("message = %q", err.Error())
	}

	l, err := f.svc.Ledger.Limits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Tiers) != 3 || l.View()[model.QualityStandard].Max != 100 {
		t.Fatalf("ledger = %+v", l.View())
	}
}
