package events

import (
	"testing"
	"time"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	b := NewBus(4)
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	e := Event{JobID: "j1", TenantID: "t1", ConversationID: "c1", Status: StatusCompleted, Timestamp: time.Now()}
	b.Publish(e)

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.JobID != "j1" || got.Status != StatusCompleted {
				t.Errorf("subscriber %d got %+v", i, got)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestBus_SlowSubscriberLosesEventsNotBlocks(t *testing.T) {
	b := NewBus(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{JobID: "j1"})
	// The buffer is full; this must not block.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{JobID: "j2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := <-ch; got.JobID != "j1" {
		t.Errorf("JobID = %q, want j1 (j2 dropped)", got.JobID)
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	b := NewBus(4)
	ch, cancel := b.Subscribe()
	cancel()

	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}
	// Publishing after cancel must not panic.
	b.Publish(Event{JobID: "j1"})
}

func TestBus_Close(t *testing.T) {
	b := NewBus(4)
	ch, _ := b.Subscribe()
	b.Close()

	if _, open := <-ch; open {
		t.Fatal("channel still open after Close")
	}
	b.Publish(Event{JobID: "j1"}) // no-op
	sub, cancel := b.Subscribe()
	cancel()
	if _, open := <-sub; open {
		t.Fatal("subscription after Close should be closed immediately")
	}
}
