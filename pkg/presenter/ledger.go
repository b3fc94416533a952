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

	"golang.org/x/exp/slices"
)

// ledgerCapacity bounds the submission-time map. Outputs can arrive out of
// order or never arrive at all (frame loss), so without a bound the map
// would grow for the life of the stream.
const ledgerCapacity = 96

// timestampLedger maps a frame's presentation timestamp to the wall-clock
// time it was submitted to the engine, for decode-latency accounting. The
// oldest entry is evicted when the bound is reached.
type timestampLedger struct {
	mu      sync.Mutex
	entries map[int64]int64 // ptsUs → enqueue wall-clock ms
	order   []int64         // insertion order of keys, oldest first
}

func newTimestampLedger() *timestampLedger {
	return &timestampLedger{
		entries: make(map[int64]int64, ledgerCapacity),
		order:   make([]int64, 0, ledgerCapacity),
	}
}

// Put records the enqueue time for ptsUs. A duplicate pts overwrites the
// previous entry without growing the ledger.
func (l *timestampLedger) Put(ptsUs, enqueueMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[ptsUs]; ok {
		l.entries[ptsUs] = enqueueMs

		return
	}

	if len(l.order) >= ledgerCapacity {
		oldest := l.order[0]
		l.order = slices.Delete(l.order, 0, 1)
		delete(l.entries, oldest)
	}

	l.entries[ptsUs] = enqueueMs
	l.order = append(l.order, ptsUs)
}

// Take removes and returns the enqueue time for ptsUs.
func (l *timestampLedger) Take(ptsUs int64) (enqueueMs int64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	enqueueMs, ok = l.entries[ptsUs]
	if !ok {
		return 0, false
	}

	delete(l.entries, ptsUs)

	if i := slices.Index(l.order, ptsUs); i >= 0 {
		l.order = slices.Delete(l.order, i, i+1)
	}

	return enqueueMs, true
}

// Len returns the number of outstanding entries.
func (l *timestampLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

// Clear drops all entries.
func (l *timestampLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[int64]int64, ledgerCapacity)
	l.order = l.order[:0]
}
