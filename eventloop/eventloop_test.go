package eventloop

import (
	"context"
	"testing"
	"time"
)

type eventA struct{ n int }
type eventB struct{ n int }

func TestHandlersDispatchByType(t *testing.T) {
	el := New(16)

	var gotA, gotB []int
	el.RegisterHandler(eventA{}, func(event any) {
		gotA = append(gotA, event.(eventA).n)
	})
	el.RegisterHandler(eventB{}, func(event any) {
		gotB = append(gotB, event.(eventB).n)
	})

	el.AddEvent(eventA{1})
	el.AddEvent(eventB{2})
	el.AddEvent(eventA{3})
	for el.Tick() {
	}

	if len(gotA) != 2 || gotA[0] != 1 || gotA[1] != 3 {
		t.Errorf("eventA handler saw %v, want [1 3]", gotA)
	}
	if len(gotB) != 1 || gotB[0] != 2 {
		t.Errorf("eventB handler saw %v, want [2]", gotB)
	}
}

func TestHandlerBroadcastIsDeferred(t *testing.T) {
	el := New(16)

	var order []string
	el.RegisterHandler(eventA{}, func(event any) {
		order = append(order, "a")
		if event.(eventA).n == 0 {
			el.AddEvent(eventB{})
		}
		order = append(order, "a-done")
	})
	el.RegisterHandler(eventB{}, func(any) {
		order = append(order, "b")
	})

	el.AddEvent(eventA{0})
	for el.Tick() {
	}

	want := []string{"a", "a-done", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	el := New(16)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		el.Run(ctx)
		close(done)
	}()

	handled := make(chan struct{}, 1)
	el.RegisterHandler(eventA{}, func(any) {
		handled <- struct{}{}
	})
	el.AddEvent(eventA{})

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("event was not handled")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on context cancel")
	}
}

func TestStop(t *testing.T) {
	el := New(16)
	done := make(chan struct{})
	go func() {
		el.Run(context.Background())
		close(done)
	}()
	// Give the loop a moment to install its context.
	time.Sleep(10 * time.Millisecond)
	el.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
