package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type chanSink struct {
	got chan Event
}

func (s chanSink) Deliver(_ context.Context, e Event) error {
	s.got <- e
	return nil
}

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *failingSink) Deliver(context.Context, Event) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return errors.New("broker down")
}

func TestOutboxDeliversToEverySink(t *testing.T) {
	ok := chanSink{got: make(chan Event, 4)}
	bad := &failingSink{}
	o := NewOutbox(4, nil, bad, ok)
	o.Start(context.Background())
	defer o.Close()

	o.Notify(context.Background(), []Event{
		{Room: RoomAdmin, Name: SlotCreated},
		{Room: RoomPublic, Name: SlotCreated},
	})

	for _, room := range []string{RoomAdmin, RoomPublic} {
		select {
		case e := <-ok.got:
			if e.Room != room {
				t.Fatalf("room = %s, want %s", e.Room, room)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for delivery")
		}
	}
	bad.mu.Lock()
	defer bad.mu.Unlock()
	if bad.calls != 2 {
		t.Fatalf("failing sink calls = %d", bad.calls)
	}
}

func TestOutboxNotifyNeverBlocks(t *testing.T) {
	// no worker running: the queue fills up and further batches are dropped
	o := NewOutbox(1, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			o.Notify(context.Background(), []Event{{Room: RoomPublic, Name: SharesUpdated}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
}

func TestOutboxCloseDrainsQueue(t *testing.T) {
	ok := chanSink{got: make(chan Event, 8)}
	o := NewOutbox(8, nil, ok)
	o.Notify(context.Background(), []Event{{Room: RoomAdmin, Name: SlotDeleted}})
	o.Start(context.Background())
	o.Close()

	select {
	case e := <-ok.got:
		if e.Name != SlotDeleted {
			t.Fatalf("event = %s", e.Name)
		}
	default:
		t.Fatal("queued event not delivered before Close returned")
	}
}
