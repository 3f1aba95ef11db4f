package notify

import "testing"

func TestSubscribeRejectsUnsupportedFilterKind(t *testing.T) {
	bus := NewBus()
	if _, err := Subscribe(bus, 1, "config-change", "regex", "//*", 4); err == nil {
		t.Fatalf("expected rejection of unsupported filter kind")
	}
}

func TestPublishDeliversToMatchingStream(t *testing.T) {
	bus := NewBus()
	sub, err := Subscribe(bus, 1, "config-change", FilterKindXPath, "", 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	bus.Publish("config-change", map[string]interface{}{"path": "/system/hostname"})
	select {
	case ev := <-sub.Events:
		if ev.Seq != 1 {
			t.Errorf("expected first event seq 1, got %d", ev.Seq)
		}
	default:
		t.Fatalf("expected event to be delivered")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	bus := NewBus()
	sub, err := Subscribe(bus, 1, "config-change", "", "", 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	bus.Publish("config-change", nil)
	bus.Publish("config-change", nil) // buffer depth 1: this one should drop
	if sub.Dropped != 1 {
		t.Errorf("expected 1 dropped event, got %d", sub.Dropped)
	}
}

func TestUnsubscribeSessionRemovesAll(t *testing.T) {
	bus := NewBus()
	if _, err := Subscribe(bus, 9, "stream-a", "", "", 4); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := Subscribe(bus, 9, "stream-b", "", "", 4); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	bus.UnsubscribeSession(9)
	if len(bus.Subscriptions()) != 0 {
		t.Errorf("expected no subscriptions to remain after session teardown")
	}
}
