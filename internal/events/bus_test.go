package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/grabd/grabd/internal/domain"
)

func transitionEvent(jobID string, from, to domain.JobState) domain.Event {
	return domain.Event{
		JobID:     jobID,
		Kind:      domain.EventTransition,
		PrevState: from,
		NewState:  to,
		Timestamp: time.Now(),
	}
}

func progressEvent(jobID string, bytes int64) domain.Event {
	return domain.Event{
		JobID:     jobID,
		Kind:      domain.EventProgress,
		Progress:  domain.ProgressSnapshot{BytesDone: bytes},
		Timestamp: time.Now(),
	}
}

func collect(t *testing.T, sub *Subscriber, n int) []domain.Event {
	t.Helper()
	var got []domain.Event
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscriber closed after %d events, want %d", len(got), n)
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events, want %d", len(got), n)
		}
	}
	return got
}

func TestPerJobOrderPreserved(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	states := []domain.JobState{
		domain.StateResolving,
		domain.StateAwaitingSelection,
		domain.StateQueued,
		domain.StateRunning,
		domain.StateSucceeded,
	}
	prev := domain.StatePending
	for _, s := range states {
		bus.Publish(transitionEvent("job1", prev, s))
		prev = s
	}

	got := collect(t, sub, len(states))
	for i, ev := range got {
		if ev.NewState != states[i] {
			t.Fatalf("event %d: got %s, want %s", i, ev.NewState, states[i])
		}
	}
}

func TestFanOutToMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(transitionEvent("job1", domain.StatePending, domain.StateResolving))

	for _, sub := range []*Subscriber{a, b} {
		ev := collect(t, sub, 1)[0]
		if ev.JobID != "job1" || ev.NewState != domain.StateResolving {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestOverflowCoalescesProgressOnly(t *testing.T) {
	bus := NewBusWithBuffer(4)
	defer bus.Close()
	sub := bus.Subscribe()

	// Nobody is draining yet: the pump takes one event, the queue holds
	// the rest. Fill well past the buffer.
	for i := 0; i < 50; i++ {
		bus.Publish(progressEvent("job1", int64(i)))
	}
	bus.Publish(transitionEvent("job1", domain.StateRunning, domain.StateSucceeded))

	// Drain everything that was kept.
	var got []domain.Event
	deadline := time.After(2 * time.Second)
drain:
	for {
		select {
		case ev := <-sub.Events():
			got = append(got, ev)
			if ev.Kind == domain.EventTransition {
				break drain
			}
		case <-deadline:
			t.Fatal("never saw the transition event")
		}
	}

	// Far fewer than 50 progress events must have survived, and the
	// transition must be the last one.
	if len(got) > 10 {
		t.Fatalf("expected coalescing, got %d events", len(got))
	}
	last := got[len(got)-1]
	if last.Kind != domain.EventTransition || last.NewState != domain.StateSucceeded {
		t.Fatalf("transition lost: %+v", last)
	}

	// The newest progress sample wins over the ones it replaced.
	var sawDropped bool
	var maxBytes int64
	for _, ev := range got {
		if ev.Dropped {
			sawDropped = true
		}
		if ev.Kind == domain.EventProgress && ev.Progress.BytesDone > maxBytes {
			maxBytes = ev.Progress.BytesDone
		}
	}
	if !sawDropped {
		t.Fatal("expected a DroppedEvents marker")
	}
	if maxBytes != 49 {
		t.Fatalf("newest progress sample = %d, want 49", maxBytes)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBusWithBuffer(2)
	defer bus.Close()
	sub := bus.Subscribe()
	_ = sub // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(progressEvent("job1", int64(i)))
			bus.Publish(transitionEvent(fmt.Sprintf("job%d", i), domain.StateQueued, domain.StateRunning))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel never closed")
	}

	// Publishing after unsubscribe must not panic or deliver.
	bus.Publish(transitionEvent("job1", domain.StatePending, domain.StateResolving))
}
