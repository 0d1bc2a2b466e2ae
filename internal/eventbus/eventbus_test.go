package eventbus

import (
	"testing"
	"time"

	"github.com/campusreg/registrar/internal/domain"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe(Topic("c1"))
	defer sub.Unsubscribe()

	b.Publish(Topic("c1"), domain.RegistrationEvent{EventType: domain.EventSeatBooked})

	select {
	case evt := <-sub.Events():
		if evt.EventType != domain.EventSeatBooked {
			t.Fatalf("got %v, want EventSeatBooked", evt.EventType)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	b := New()
	subA := b.Subscribe(Topic("a"))
	subB := b.Subscribe(Topic("b"))
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	b.Publish(Topic("a"), domain.RegistrationEvent{EventType: domain.EventSeatBooked})

	select {
	case <-subB.Events():
		t.Fatal("subscriber on topic b should not receive topic a's event")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case <-subA.Events():
	case <-time.After(time.Second):
		t.Fatal("subscriber on topic a should have received its event")
	}
}

func TestPublishDropsWhenSubscriberBufferFull(t *testing.T) {
	b := New()
	sub := b.Subscribe(Topic("c1"))
	defer sub.Unsubscribe()

	for i := 0; i < DefaultBufferSize+10; i++ {
		b.Publish(Topic("c1"), domain.RegistrationEvent{EventType: domain.EventSeatBooked})
	}

	_, dropped := b.Stats()
	if dropped == 0 {
		t.Fatal("expected some events to be dropped once buffer filled")
	}
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe(Topic("c1"))
	sub.Unsubscribe()

	if b.SubscriberCount(Topic("c1")) != 0 {
		t.Fatal("expected subscriber count to drop to 0")
	}

	_, ok := <-sub.Events()
	if ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}

	sub.Unsubscribe() // must not panic on double-unsubscribe
}

func TestSubscriberCountTracksMultipleSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe(Topic("c1"))
	s2 := b.Subscribe(Topic("c1"))
	if got := b.SubscriberCount(Topic("c1")); got != 2 {
		t.Fatalf("subscriber count = %d, want 2", got)
	}
	s1.Unsubscribe()
	if got := b.SubscriberCount(Topic("c1")); got != 1 {
		t.Fatalf("subscriber count after unsubscribe = %d, want 1", got)
	}
	s2.Unsubscribe()
}
