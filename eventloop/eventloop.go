// Package eventloop provides the typed event bus the consensus task runs on.
// Handlers are registered per event type; events are dispatched serially in
// arrival order by a single goroutine, so handlers never race with each other.
package eventloop

import (
	"context"
	"reflect"
	"sync"
)

// EventHandler processes one event.
type EventHandler func(event any)

// EventLoop dispatches events to registered handlers.
type EventLoop struct {
	mu       sync.Mutex
	eventQ   chan any
	handlers map[reflect.Type][]EventHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a new event loop with the given queue capacity.
func New(bufferSize uint) *EventLoop {
	return &EventLoop{
		eventQ:   make(chan any, bufferSize),
		handlers: make(map[reflect.Type][]EventHandler),
	}
}

// RegisterHandler registers a handler for events of the same type as the
// given event. Multiple handlers for one type run in registration order.
func (el *EventLoop) RegisterHandler(event any, handler EventHandler) {
	t := reflect.TypeOf(event)
	el.mu.Lock()
	defer el.mu.Unlock()
	el.handlers[t] = append(el.handlers[t], handler)
}

// AddEvent enqueues an event. A broadcast sent from inside a handler is
// observed by this loop in a later iteration, never synchronously.
func (el *EventLoop) AddEvent(event any) {
	el.eventQ <- event
}

// Context returns the context of the running loop. It is canceled when the
// loop stops. Before Run is called it returns the background context.
func (el *EventLoop) Context() context.Context {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.ctx == nil {
		return context.Background()
	}
	return el.ctx
}

// Run processes events until ctx is canceled. It returns as soon as the
// cancellation is observed; events still queued at that point are not
// processed.
func (el *EventLoop) Run(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	el.mu.Lock()
	el.ctx, el.cancel = loopCtx, cancel
	el.mu.Unlock()
	defer cancel()

	for {
		select {
		case event := <-el.eventQ:
			el.processEvent(event)
		case <-loopCtx.Done():
			return
		}
	}
}

// Stop cancels a running loop.
func (el *EventLoop) Stop() {
	el.mu.Lock()
	cancel := el.cancel
	el.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Tick processes a single queued event and reports whether one was processed.
// It lets tests drive the loop deterministically without a goroutine.
func (el *EventLoop) Tick() bool {
	select {
	case event := <-el.eventQ:
		el.processEvent(event)
		return true
	default:
		return false
	}
}

func (el *EventLoop) processEvent(event any) {
	t := reflect.TypeOf(event)
	el.mu.Lock()
	handlers := el.handlers[t]
	el.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}
