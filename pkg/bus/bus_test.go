package bus

import (
	"testing"
	"time"
)

func TestEventBus_FanOut(t *testing.T) {
	b := NewEventBus()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelA()
	defer cancelC()

	if err := b.Publish(Event{Type: EventMessageSent, MatchID: "m1"}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	for name, ch := range map[string]<-chan Event{"a": a, "c": c} {
		select {
		case ev := <-ch:
			if ev.Type != EventMessageSent || ev.MatchID != "m1" {
				t.Errorf("%s got %+v", name, ev)
			}
			if ev.ID == "" || ev.Time.IsZero() {
				t.Errorf("%s event not stamped: %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive event", name)
		}
	}
}

func TestEventBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewEventBus()
	_, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for range 10 {
			b.Publish(Event{Type: EventCycleStarted})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := b.Dropped(); got != 9 {
		t.Errorf("Dropped() = %d, want 9", got)
	}
}

func TestEventBus_CancelAndClose(t *testing.T) {
	b := NewEventBus()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	other, _ := b.Subscribe(1)
	b.Close()
	if _, ok := <-other; ok {
		t.Error("channel should be closed after Close")
	}
	if err := b.Publish(Event{Type: EventBackoff}); err != ErrBusClosed {
		t.Errorf("Publish after Close = %v, want ErrBusClosed", err)
	}
	late, _ := b.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscribing after Close should yield a closed channel")
	}
}
