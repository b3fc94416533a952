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

func TestStatsFirstSampleSeedsAverage(t *testing.T) {
	t.Parallel()

	now := newFakeNow()
	s := newStatsEngine(now.Now)

	s.RecordDecoded(12, false)

	snap := s.Snapshot()
	require.InDelta(t, 12.0, snap.AvgDecodeMs, 1e-9)
	require.InDelta(t, 12.0, snap.MaxDecodeMs, 1e-9)
}

func TestStatsEMAWeights(t *testing.T) {
	t.Parallel()

	now := newFakeNow()
	s := newStatsEngine(now.Now)

	s.RecordDecoded(12, false)
	s.RecordDecoded(22, false)

	// Predicted frames move the average by a tenth of the difference.
	snap := s.Snapshot()
	require.InDelta(t, 13.0, snap.AvgDecodeMs, 1e-9)

	// A keyframe outlier of the same size barely moves it.
	s2 := newStatsEngine(now.Now)
	s2.RecordDecoded(12, false)
	s2.RecordDecoded(22, true)

	snap2 := s2.Snapshot()
	require.InDelta(t, 12.3, snap2.AvgDecodeMs, 1e-9)
	require.Less(t, snap2.AvgDecodeMs, snap.AvgDecodeMs)
}

func TestStatsImplausibleLatencyIgnored(t *testing.T) {
	t.Parallel()

	now := newFakeNow()
	s := newStatsEngine(now.Now)

	s.RecordDecoded(12, false)
	s.RecordDecoded(1500, false)
	s.RecordDecoded(-3, false)

	snap := s.Snapshot()
	require.InDelta(t, 12.0, snap.AvgDecodeMs, 1e-9)
	require.InDelta(t, 12.0, snap.MaxDecodeMs, 1e-9)

	// Both frames still counted as decoded.
	require.Equal(t, uint64(3), snap.DecodedFrames)
}

func TestStatsWindowRates(t *testing.T) {
	t.Parallel()

	now := newFakeNow()
	s := newStatsEngine(now.Now)

	// 30 frames of 1000 bytes in exactly one second.
	for i := 0; i < 30; i++ {
		s.RecordReceived(1000, 0)
		s.RecordDecoded(5, false)
	}

	now.Advance(time.Second)

	snap := s.Snapshot()
	require.InDelta(t, 30.0, snap.ReceivedFPS, 1e-9)
	require.InDelta(t, 30.0, snap.DecodedFPS, 1e-9)
	require.InDelta(t, 30*1000*8/1000.0, snap.BitrateKbps, 1e-9)

	// New window starts empty: another second with no frames zeroes the
	// rates.
	now.Advance(time.Second)

	snap = s.Snapshot()
	require.InDelta(t, 0.0, snap.ReceivedFPS, 1e-9)
	require.InDelta(t, 0.0, snap.DecodedFPS, 1e-9)
}

func TestStatsCountersAndHostLatency(t *testing.T) {
	t.Parallel()

	now := newFakeNow()
	s := newStatsEngine(now.Now)

	s.RecordReceived(100, 4)
	s.RecordReceived(100, 8)
	s.RecordReceived(100, 0) // unknown latency, not averaged
	s.RecordDropped(2)

	snap := s.Snapshot()
	require.Equal(t, uint64(3), snap.TotalFrames)
	require.Equal(t, uint64(2), snap.DroppedFrames)
	require.InDelta(t, 6.0, snap.AvgHostLatencyMs, 1e-9)
}
