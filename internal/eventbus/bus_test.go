package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeDelivered})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeDelivered || e.Time.IsZero() {
				t.Fatalf("sub %d got %+v", i, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d got nothing", i)
		}
	}
}

func TestPublishDropsWhenFullAndSurvivesUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"}) // dropped, must not block

	if e := <-ch; e.Type != "one" {
		t.Fatalf("got %q", e.Type)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "three"})
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4, TypeCycleFailed, TypeBindingChanged)
	defer unsub()

	b.Publish(Event{Type: TypeDelivered})
	b.Publish(Event{Type: TypeBindingChanged})
	b.Publish(Event{Type: TypeCycleDone})

	select {
	case e := <-ch:
		if e.Type != TypeBindingChanged {
			t.Fatalf("got %q, want %q", e.Type, TypeBindingChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber got nothing")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}

func TestDroppedCounts(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	for range 3 {
		b.Publish(Event{Type: TypeDelivered})
	}
	if got := b.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}
