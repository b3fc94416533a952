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

	"github.com/stretchr/testify/require"
)

func TestLedgerPutTake(t *testing.T) {
	t.Parallel()

	l := newTimestampLedger()

	l.Put(1000, 50)
	l.Put(2000, 60)

	ms, ok := l.Take(1000)
	require.True(t, ok)
	require.Equal(t, int64(50), ms)

	// Taken entries are gone.
	_, ok = l.Take(1000)
	require.False(t, ok)

	require.Equal(t, 1, l.Len())
}

func TestLedgerEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	l := newTimestampLedger()

	for i := int64(0); i < ledgerCapacity+10; i++ {
		l.Put(i, i*10)
	}

	require.Equal(t, ledgerCapacity, l.Len())

	// The first 10 entries were evicted.
	for i := int64(0); i < 10; i++ {
		_, ok := l.Take(i)
		require.False(t, ok)
	}

	ms, ok := l.Take(10)
	require.True(t, ok)
	require.Equal(t, int64(100), ms)
}

func TestLedgerDuplicatePtsOverwrites(t *testing.T) {
	t.Parallel()

	l := newTimestampLedger()

	l.Put(1000, 50)
	l.Put(1000, 75)

	require.Equal(t, 1, l.Len())

	ms, ok := l.Take(1000)
	require.True(t, ok)
	require.Equal(t, int64(75), ms)
}

func TestLedgerClear(t *testing.T) {
	t.Parallel()

	l := newTimestampLedger()
	l.Put(1000, 50)
	l.Put(2000, 60)

	l.Clear()
	require.Equal(t, 0, l.Len())

	_, ok := l.Take(1000)
	require.False(t, ok)
}
