package events

import (
	"strings"
	"testing"
)

func TestPublishDeliversInOrder(t *testing.T) {
	s := NewStream()
	sub := s.Subscribe(16, "")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		s.Publish(Event{Kind: KindExec, Level: "SAFE", Preview: "Get-Date"})
	}

	var last string
	for i := 0; i < 5; i++ {
		ev := <-sub.C
		if ev.ID == "" || ev.Timestamp.IsZero() {
			t.Fatal("published event must carry id and timestamp")
		}
		// ULIDs are time-sortable, so publish order is lexicographic.
		if last != "" && ev.ID <= last {
			t.Fatalf("ids out of order: %s then %s", last, ev.ID)
		}
		last = ev.ID
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	s := NewStream()
	sub := s.Subscribe(2, "")
	defer sub.Close()

	for i := 0; i < 10; i++ {
		s.Publish(Event{Kind: KindExec})
	}

	if got := sub.Dropped(); got != 8 {
		t.Fatalf("dropped = %d, want 8", got)
	}
	if got := s.TotalDropped(); got != 8 {
		t.Fatalf("stream dropped = %d, want 8", got)
	}

	// The two buffered events are still deliverable.
	<-sub.C
	<-sub.C
}

func TestWildcardFilter(t *testing.T) {
	s := NewStream()
	attempts := s.Subscribe(8, "attempt.*")
	defer attempts.Close()

	s.Publish(Event{Kind: KindExec})
	s.Publish(Event{Kind: KindAttemptBlocked})
	s.Publish(Event{Kind: KindAttemptUnconfirm})

	got := []string{(<-attempts.C).Kind, (<-attempts.C).Kind}
	for _, kind := range got {
		if !strings.HasPrefix(kind, "attempt.") {
			t.Fatalf("filtered subscription received %q", kind)
		}
	}
	select {
	case ev := <-attempts.C:
		t.Fatalf("unexpected extra event %q", ev.Kind)
	default:
	}
}

func TestCloseUnregisters(t *testing.T) {
	s := NewStream()
	sub := s.Subscribe(1, "")
	if s.SubscriberCount() != 1 {
		t.Fatal("expected one subscriber")
	}
	sub.Close()
	if s.SubscriberCount() != 0 {
		t.Fatal("expected zero subscribers after close")
	}
	// Closing twice is safe.
	sub.Close()
}

func TestPreviewTruncation(t *testing.T) {
	long := strings.Repeat("x", 500)
	if got := Preview(long); len(got) != previewChars {
		t.Fatalf("preview length = %d, want %d", len(got), previewChars)
	}
	if got := Preview("short"); got != "short" {
		t.Fatalf("short preview altered: %q", got)
	}
}
