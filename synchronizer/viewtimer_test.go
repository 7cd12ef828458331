package synchronizer

import (
	"testing"
	"time"

	"github.com/meridian-bft/meridian"
	"github.com/meridian-bft/meridian/eventloop"
)

func collectTimeouts(el *eventloop.EventLoop) *[]meridian.View {
	var fired []meridian.View
	el.RegisterHandler(meridian.Timeout{}, func(event any) {
		fired = append(fired, event.(meridian.Timeout).View)
	})
	return &fired
}

func TestTimerFiresForArmedView(t *testing.T) {
	el := eventloop.New(16)
	fired := collectTimeouts(el)

	timer := NewViewTimer(el, 20*time.Millisecond)
	timer.Arm(3)

	time.Sleep(80 * time.Millisecond)
	for el.Tick() {
	}

	if len(*fired) != 1 || (*fired)[0] != 3 {
		t.Fatalf("timeouts fired = %v, want [3]", *fired)
	}
}

func TestReArmCancelsPreviousView(t *testing.T) {
	el := eventloop.New(16)
	fired := collectTimeouts(el)

	timer := NewViewTimer(el, 50*time.Millisecond)
	timer.Arm(3)
	time.Sleep(10 * time.Millisecond)
	timer.Arm(4)

	time.Sleep(150 * time.Millisecond)
	for el.Tick() {
	}

	if len(*fired) != 1 || (*fired)[0] != 4 {
		t.Fatalf("timeouts fired = %v, want [4]", *fired)
	}
}

func TestStopCancelsTimer(t *testing.T) {
	el := eventloop.New(16)
	fired := collectTimeouts(el)

	timer := NewViewTimer(el, 20*time.Millisecond)
	timer.Arm(3)
	timer.Stop()

	time.Sleep(80 * time.Millisecond)
	for el.Tick() {
	}

	if len(*fired) != 0 {
		t.Fatalf("timeouts fired = %v, want none", *fired)
	}
}
