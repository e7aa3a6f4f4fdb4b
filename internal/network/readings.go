// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package network

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/knee_flexion/internal/anatomy"
	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

// Reading is one completed sync cycle: a quaternion per sensor and the
// tared angles between the lower and the upper sensor.
type Reading struct {
	Quats     []quaternion.Quaternion `json:"quats"`
	Angles    anatomy.Angles          `json:"angles"`
	Timestamp time.Time               `json:"timestamp"`
}

// readingBus fans readings out to subscriber channels. A subscriber whose
// channel is full misses the reading; publishing never blocks.
type readingBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Reading
	closed bool

	published uint64
	dropped   uint64
}

func newReadingBus() *readingBus {
	return &readingBus{subs: make(map[int]chan Reading)}
}

func (b *readingBus) subscribe(buffer int) (<-chan Reading, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Reading, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if ch, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

func (b *readingBus) publish(r Reading) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	atomic.AddUint64(&b.published, 1)
	for _, ch := range b.subs {
		select {
		case ch <- r:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
}

func (b *readingBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *readingBus) droppedReadings() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

func (b *readingBus) publishedReadings() uint64 {
	return atomic.LoadUint64(&b.published)
}
