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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueuePushPopOrder(t *testing.T) {
	t.Parallel()

	q := newFallbackQueue(4)

	for i := uint32(0); i < 3; i++ {
		evicted := q.Push(pendingFrame{frameNumber: i})
		require.False(t, evicted)
	}

	require.Equal(t, 3, q.Len())

	for i := uint32(0); i < 3; i++ {
		f, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, f.frameNumber)
	}

	_, ok := q.Pop()
	require.False(t, ok)
}

func TestQueueEvictsOldestWhenFull(t *testing.T) {
	t.Parallel()

	q := newFallbackQueue(2)

	require.False(t, q.Push(pendingFrame{frameNumber: 1}))
	require.False(t, q.Push(pendingFrame{frameNumber: 2}))
	require.True(t, q.Push(pendingFrame{frameNumber: 3}))

	require.Equal(t, 2, q.Len())

	f, _ := q.Pop()
	require.Equal(t, uint32(2), f.frameNumber)
	f, _ = q.Pop()
	require.Equal(t, uint32(3), f.frameNumber)
}

func TestQueueRequeuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := newFallbackQueue(4)
	q.Push(pendingFrame{frameNumber: 1})
	q.Push(pendingFrame{frameNumber: 2})

	f, _ := q.Pop()
	require.Equal(t, uint32(1), f.frameNumber)

	require.False(t, q.Requeue(f))

	f, _ = q.Pop()
	require.Equal(t, uint32(1), f.frameNumber)
}

func TestQueueRequeueDropsWhenRefilled(t *testing.T) {
	t.Parallel()

	q := newFallbackQueue(2)
	q.Push(pendingFrame{frameNumber: 1})

	f, _ := q.Pop()

	q.Push(pendingFrame{frameNumber: 2})
	q.Push(pendingFrame{frameNumber: 3})

	require.True(t, q.Requeue(f))
	require.Equal(t, 2, q.Len())
}

func TestQueueWaitWakesOnPush(t *testing.T) {
	t.Parallel()

	q := newFallbackQueue(2)
	stopC := make(chan struct{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(pendingFrame{frameNumber: 1})
	}()

	start := time.Now()
	q.Wait(time.Second, stopC)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestQueueClear(t *testing.T) {
	t.Parallel()

	q := newFallbackQueue(4)
	q.Push(pendingFrame{frameNumber: 1})
	q.Push(pendingFrame{frameNumber: 2})

	require.Equal(t, 2, q.Clear())
	require.Equal(t, 0, q.Len())
}
