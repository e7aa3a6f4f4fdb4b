// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"sync"
	"sync/atomic"

	"github.com/relabs-tech/knee_flexion/internal/monitoring"
)

// Hub is the handler registry and event channel shared by the adapters.
// Handlers are invoked synchronously in registration order from whichever
// goroutine publishes.
type Hub struct {
	mu      sync.RWMutex
	nextID  int
	samples map[int]SampleHandler
	batches map[int]BatchHandler
	order   []int
	events  chan Event
	closed  bool

	droppedEvents uint64
}

// NewHub creates a hub whose event channel holds up to buffer events.
func NewHub(buffer int) *Hub {
	return &Hub{
		samples: make(map[int]SampleHandler),
		batches: make(map[int]BatchHandler),
		events:  make(chan Event, buffer),
	}
}

func (h *Hub) register(fn func(id int)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	fn(id)
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.samples, id)
			delete(h.batches, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribe registers a live sample handler.
func (h *Hub) Subscribe(fn SampleHandler) func() {
	return h.register(func(id int) { h.samples[id] = fn })
}

// OnBatch registers a batch handler.
func (h *Hub) OnBatch(fn BatchHandler) func() {
	return h.register(func(id int) { h.batches[id] = fn })
}

// PublishSample hands s to every sample handler.
func (h *Hub) PublishSample(s Sample) {
	h.mu.RLock()
	handlers := make([]SampleHandler, 0, len(h.samples))
	for _, id := range h.order {
		if fn, ok := h.samples[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	closed := h.closed
	h.mu.RUnlock()

	if closed {
		return
	}
	for _, fn := range handlers {
		fn(s)
	}
}

// PublishBatch hands a chunk of logged samples to every batch handler.
func (h *Hub) PublishBatch(sensorIndex int, samples []Sample) {
	h.mu.RLock()
	handlers := make([]BatchHandler, 0, len(h.batches))
	for _, id := range h.order {
		if fn, ok := h.batches[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	closed := h.closed
	h.mu.RUnlock()

	if closed {
		return
	}
	for _, fn := range handlers {
		fn(sensorIndex, samples)
	}
}

// Emit queues e without blocking. When the channel is full the event is
// dropped and counted.
func (h *Hub) Emit(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	select {
	case h.events <- e:
	default:
		atomic.AddUint64(&h.droppedEvents, 1)
		monitoring.Logf("transport: event channel full, dropped %s", e)
	}
}

// Events returns the event channel.
func (h *Hub) Events() <-chan Event {
	return h.events
}

// DroppedEvents counts events lost to a full channel.
func (h *Hub) DroppedEvents() uint64 {
	return atomic.LoadUint64(&h.droppedEvents)
}

// Close stops delivery and closes the event channel. It is idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.samples = map[int]SampleHandler{}
	h.batches = map[int]BatchHandler{}
	h.order = nil
	close(h.events)
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
