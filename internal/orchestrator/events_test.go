package orchestrator

import "testing"

func TestEventBusSubscribersOnlySeeSubsequentEvents(t *testing.T) {
	bus := newEventBus()
	bus.logf(LogInfo, "before subscribe")

	ch := bus.subscribe()
	bus.logf(LogInfo, "after subscribe")

	select {
	case ev := <-ch:
		if ev.Log.Text != "after subscribe" {
			t.Fatalf("got event %+v, want only the post-subscribe event", ev)
		}
	default:
		t.Fatal("expected the post-subscribe event to be buffered")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event %+v", ev)
	default:
	}
}

func TestEventBusPublishDropsForFullSubscriber(t *testing.T) {
	bus := newEventBus()
	ch := bus.subscribe()

	for i := 0; i < 100; i++ {
		bus.logf(LogDebug, "filler")
	}

	if len(ch) != cap(ch) {
		t.Fatalf("channel len = %d, want full buffer %d", len(ch), cap(ch))
	}
}

func TestEventBusCloseIsIdempotentAndClosesSubscribers(t *testing.T) {
	bus := newEventBus()
	ch := bus.subscribe()

	bus.close()
	bus.close()

	if _, open := <-ch; open {
		t.Fatal("expected subscriber channel to be closed")
	}

	late := bus.subscribe()
	if _, open := <-late; open {
		t.Fatal("subscribing after close should return an already-closed channel")
	}
}
