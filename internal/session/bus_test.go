package session

import "testing"

func TestBusDeliversToSubscribers(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Start(3, 2))
	got := <-ch
	if got.Kind != KindStart || got.Total != 3 || got.Concurrency != 2 {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	cancel()
	if _, open := <-ch; open {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Status("still fine"))
}

func TestBusCloseEndsAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, _ := b.Subscribe()
	ch2, _ := b.Subscribe()
	b.Close()

	for _, ch := range []<-chan Message{ch1, ch2} {
		if _, open := <-ch; open {
			t.Fatalf("channel should be closed after bus close")
		}
	}

	late, cancel := b.Subscribe()
	defer cancel()
	if _, open := <-late; open {
		t.Fatalf("subscribing to a closed bus should return a closed channel")
	}
}

func TestTerminalKinds(t *testing.T) {
	if !Done(1, 1, 0, 1, "h").Terminal() || !Error("x").Terminal() || !Cancelled().Terminal() {
		t.Fatalf("done, error and cancelled are terminal")
	}
	if Start(1, 1).Terminal() || Progress(1, 2, "a", 1, 0).Terminal() {
		t.Fatalf("start and progress are not terminal")
	}
}
