package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsumerHandleAppendsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "completions.log")
	c := NewConsumer("amqp://unused", path, nil)

	msg := SlotCompletedMessage{
		CompletionID:  "c1",
		UserID:        "u1",
		SlotID:        "s1",
		Day:           1,
		TimeSlot:      "08:00 AM - 08:30 AM",
		Quality:       "Standard",
		CollectorName: "Aisha",
		Names:         []string{"Aisha", "Omar"},
		CompletedAt:   "2026-06-16T08:30:00Z",
	}
	body, _ := json.Marshal(msg)
	for i := 0; i < 2; i++ {
		if err := c.Handle(body); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "slot_id=s1") || !strings.Contains(lines[0], "names=[Aisha,Omar]") {
		t.Fatalf("unexpected line %q", lines[0])
	}
}

func TestConsumerHandleRejectsBadMessages(t *testing.T) {
	c := NewConsumer("amqp://unused", filepath.Join(t.TempDir(), "c.log"), nil)
	if err := c.Handle([]byte("{")); err == nil {
		t.Fatal("expected unmarshal error")
	}
	if err := c.Handle([]byte(`{"user_id":"u1"}`)); err == nil {
		t.Fatal("expected error for message without slot")
	}
}
