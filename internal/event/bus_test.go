package event

import (
	"testing"
	"time"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish(Event{Type: TypeChannelAdded, Channel: "IU.ANMO.00.BHZ"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != TypeChannelAdded || ev.Channel != "IU.ANMO.00.BHZ" {
				t.Fatalf("got %+v", ev)
			}
			if ev.At.IsZero() {
				t.Fatal("event should carry a timestamp")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestCancelClosesSubscriberChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}

	// Publishing after cancel must not panic or deliver.
	b.Publish(Event{Type: TypeDataReloaded})
}

func TestCancelIsIdempotent(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, cancel := b.Subscribe()
	cancel()
	cancel()
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	// Overfill the buffer without draining; every publish must return.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Type: TypeChannelSetChanged})
	}

	if got := b.Dropped(); got != 10 {
		t.Fatalf("dropped = %d, want 10", got)
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
}

func TestCloseEndsAllSubscriptions(t *testing.T) {
	b := NewBus()
	ch1, _ := b.Subscribe()
	ch2, _ := b.Subscribe()

	b.Close()

	for _, ch := range []<-chan Event{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Fatal("channel should be closed")
		}
	}
}
