package engine_test

import (
	"testing"

	"github.com/seantiz/weft/internal/engine"
	"github.com/seantiz/weft/internal/model"
)

func event(runID, kind, nodeID string) model.Event {
	return model.Event{RunID: runID, Kind: kind, NodeID: nodeID}
}

func TestEventBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	want := []string{"a", "b", "c"}
	for _, id := range want {
		b.Publish(event("r1", model.EventNodeCompleted, id))
	}
	b.Close("r1")

	var got []string
	for ev := range ch {
		got = append(got, ev.NodeID)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("event[%d] node = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEventBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewEventBroker()
	ch1, unsub1 := b.Subscribe("r1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("r1")
	defer unsub2()

	b.Publish(event("r1", model.EventRunStarted, ""))
	b.Close("r1")

	for i, ch := range []<-chan model.Event{ch1, ch2} {
		var kinds []string
		for ev := range ch {
			kinds = append(kinds, ev.Kind)
		}
		if len(kinds) != 1 || kinds[0] != model.EventRunStarted {
			t.Errorf("subscriber %d got %v, want [%s]", i+1, kinds, model.EventRunStarted)
		}
	}
}

func TestEventBrokerTopicsAreIsolated(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	b.Publish(event("r2", model.EventRunStarted, ""))
	b.Close("r1")

	if ev, ok := <-ch; ok {
		t.Errorf("got event for run %q on r1 topic", ev.RunID)
	}
}

func TestEventBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewEventBroker()
	b.Publish(event("r1", model.EventRunStarted, ""))
	b.Close("r1")

	ch, unsub := b.Subscribe("r1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestEventBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("r1")
	unsub()

	b.Publish(event("r1", model.EventRunStarted, ""))
	b.Close("r1")

	select {
	case ev, ok := <-ch:
		if ok {
			t.Errorf("got unexpected event %q after unsubscribe", ev.Kind)
		}
	default:
	}
}

func TestEventBrokerUnknownRunIsNoop(t *testing.T) {
	b := engine.NewEventBroker()
	b.Publish(event("nonexistent", model.EventRunStarted, ""))
	b.Close("nonexistent")
}

func TestEventBrokerSlowSubscriberDropsEvents(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	for range 200 {
		b.Publish(event("r1", model.EventNodeCompleted, "n"))
	}
	b.Close("r1")

	n := 0
	for range ch {
		n++
	}
	if n == 0 || n >= 200 {
		t.Errorf("received %d events, want a bounded non-zero number", n)
	}
}
