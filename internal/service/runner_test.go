package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/realtime"
	"github.com/qurbani/slot-allocation/internal/repository"
)

// conflictStore rolls back the next `fail` write transactions with
// repository.ErrConflict after fn ran, the way a deadlock victim is rolled
// back by the database.
type conflictStore struct {
	*repository.MemoryStore

	mu     sync.Mutex
	fail   int
	writes int
	views  int
}

func (s *conflictStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return s.MemoryStore.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fail > 0 {
			s.fail--
			return repository.ErrConflict
		}
		return nil
	})
}

func (s *conflictStore) View(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	s.views++
	s.mu.Unlock()
	return s.MemoryStore.View(ctx, fn)
}

func newConflictServices(fail int) (*Services, *conflictStore, *realtime.Recorder) {
	store := &conflictStore{MemoryStore: repository.NewMemoryStore(), fail: fail}
	rec := &realtime.Recorder{}
	svc := New(store, rec, Options{
		DefaultTierMax: 100,
		Prices: map[model.Quality]decimal.Decimal{
			model.QualityStandard: decimal.NewFromInt(150),
			model.QualityMedium:   decimal.NewFromInt(200),
			model.QualityPremium:  decimal.NewFromInt(250),
		},
	})
	return svc, store, rec
}

func submitRequest(shares int) SubmitRequest {
	return SubmitRequest{
		CollectorName: "collector",
		Quality:       string(model.QualityStandard),
		Day:           1,
		Shares:        shares,
		Members:       members("m", shares),
		PaymentProof:  "receipt.jpg",
	}
}

func TestRunRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	svc, store, rec := newConflictServices(0)
	p, err := svc.Participations.Submit(ctx, "u1", submitRequest(3))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	before := len(rec.Events())

	store.fail = maxAttempts - 1
	store.writes = 0
	res, err := svc.Participations.SetPaymentStatus(ctx, p.ID, model.PaymentCompleted)
	if err != nil {
		t.Fatalf("SetPaymentStatus after %d conflicts: %v", maxAttempts-1, err)
	}
	if store.writes != maxAttempts {
		t.Fatalf("write transactions = %d, want %d", store.writes, maxAttempts)
	}
	if len(res.Allocations) == 0 {
		t.Fatalf("no allocations after retry")
	}

	limits, err := svc.Ledger.Limits(ctx)
	if err != nil {
		t.Fatalf("Limits: %v", err)
	}
	if got := limits.Tiers[model.QualityStandard].Participated; got != 3 {
		t.Fatalf("Standard participated = %d, want 3 (rolled back attempts must not count)", got)
	}
	slots, err := svc.Allocator.ListSlots(ctx, 1)
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	if len(slots) != 1 || slots[0].TotalShares() != 3 {
		t.Fatalf("slots after retry = %d, want one slot with 3 shares", len(slots))
	}
	if got := len(rec.Events()) - before; got == 0 {
		t.Fatalf("no events after the committed attempt")
	}
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	svc, store, rec := newConflictServices(maxAttempts)

	_, err := svc.Participations.Submit(ctx, "u1", submitRequest(2))
	wantKind(t, err, KindConflict)
	if store.writes != maxAttempts {
		t.Fatalf("write transactions = %d, want %d", store.writes, maxAttempts)
	}
	if n := len(rec.Events()); n != 0 {
		t.Fatalf("events from rolled back transactions: %d", n)
	}
	list, err := svc.Participations.List(ctx, model.ParticipationFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("participations after failed submit = %d", len(list))
	}
}

func TestRunDoesNotRetryOtherErrors(t *testing.T) {
	svc, store, _ := newConflictServices(0)
	_, err := svc.Participations.Submit(context.Background(), "u1", SubmitRequest{Quality: "Gold", Day: 1, Shares: 1})
	wantKind(t, err, KindValidation)
	if store.writes > 1 {
		t.Fatalf("write transactions = %d, want at most 1", store.writes)
	}
}

func TestReadsUseViews(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newConflictServices(0)

	if _, err := svc.Ledger.Limits(ctx); err != nil {
		t.Fatalf("Limits: %v", err)
	}
	if _, err := svc.Allocator.Available(ctx, 1, model.QualityStandard); err != nil {
		t.Fatalf("Available: %v", err)
	}
	if _, err := svc.Allocator.ListSlots(ctx, 0); err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	if _, err := svc.Participations.List(ctx, model.ParticipationFilter{}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if _, err := svc.Completions.ListForUser(ctx, "u1"); err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if store.writes != 0 {
		t.Fatalf("reads opened %d write transactions", store.writes)
	}
	if store.views != 5 {
		t.Fatalf("views = %d, want 5", store.views)
	}
}
