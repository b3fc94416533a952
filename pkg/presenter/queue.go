// Frontline Perception System
// Copyright (C) 2020-2025 TurbineOne LLC
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package presenter

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// fallbackQueue is a small bounded FIFO of pending frames, used only when
// direct submission to the decode engine fails. When full, Push evicts the
// oldest entry: in a live stream, stale frames are strictly less valuable
// than fresh ones.
type fallbackQueue struct {
	mu       sync.Mutex
	frames   []pendingFrame
	capacity int

	// notifyC wakes the decode worker when a frame arrives. Capacity 1 is
	// enough; the worker drains the queue in batches.
	notifyC chan struct{}
}

func newFallbackQueue(capacity int) *fallbackQueue {
	return &fallbackQueue{
		frames:   make([]pendingFrame, 0, capacity),
		capacity: capacity,
		notifyC:  make(chan struct{}, 1),
	}
}

// Push appends f, evicting the oldest entry if the queue is at capacity.
// Returns true if an entry was evicted.
func (q *fallbackQueue) Push(f pendingFrame) (evicted bool) {
	q.mu.Lock()

	if len(q.frames) >= q.capacity {
		q.frames = slices.Delete(q.frames, 0, 1)
		evicted = true
	}

	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.notifyC <- struct{}{}:
	default:
	}

	return evicted
}

// Pop removes and returns the oldest entry.
func (q *fallbackQueue) Pop() (pendingFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return pendingFrame{}, false
	}

	f := q.frames[0]
	q.frames = slices.Delete(q.frames, 0, 1)

	return f, true
}

// Requeue puts f back at the head of the queue after a failed drain attempt,
// preserving FIFO order. The bound still holds: if the queue refilled in the
// meantime, f is the oldest entry and is dropped instead.
func (q *fallbackQueue) Requeue(f pendingFrame) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) >= q.capacity {
		return true
	}

	q.frames = slices.Insert(q.frames, 0, f)

	return false
}

// Len returns the current queue depth.
func (q *fallbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.frames)
}

// Wait blocks until a frame is pushed, the timeout elapses, or stopC closes.
func (q *fallbackQueue) Wait(timeout time.Duration, stopC <-chan struct{}) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-q.notifyC:
	case <-t.C:
	case <-stopC:
	}
}

// Clear drops all queued frames and returns how many were dropped.
func (q *fallbackQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.frames)
	q.frames = q.frames[:0]

	return n
}
