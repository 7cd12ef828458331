// Package synchronizer arms and cancels the per-view timeout timers that keep
// replicas moving when a leader stalls.
package synchronizer

import (
	"sync"
	"time"

	"github.com/meridian-bft/meridian"
	"github.com/meridian-bft/meridian/eventloop"
)

// ViewTimer owns at most one armed timeout at a time. Arming a new view
// cancels the previous timer before the new one is started, so a stale view
// can never fire after the replica has advanced past it.
type ViewTimer struct {
	eventLoop *eventloop.EventLoop
	duration  time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewViewTimer returns a timer that emits Timeout events onto the event loop.
// The timeout duration is configured per node.
func NewViewTimer(el *eventloop.EventLoop, duration time.Duration) *ViewTimer {
	return &ViewTimer{eventLoop: el, duration: duration}
}

// Arm schedules a Timeout for the given view, canceling any previously armed
// timer.
func (t *ViewTimer) Arm(view meridian.View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.duration, func() {
		t.eventLoop.AddEvent(meridian.Timeout{View: view})
	})
}

// Stop cancels the armed timer, if any.
func (t *ViewTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Duration returns the configured timeout duration.
func (t *ViewTimer) Duration() time.Duration {
	return t.duration
}
