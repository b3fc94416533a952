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

	"github.com/rs/zerolog"
)

const (
	statsWindow = time.Second

	// Exponential moving average weights for decode latency. Keyframes are
	// much larger than predicted frames and decode slower, so they get a
	// smaller weight to keep a single outlier from distorting the average.
	emaAlphaKeyframe  = 0.03
	emaAlphaPredicted = 0.1

	// Latency samples at or above this are treated as clock glitches and
	// discarded rather than folded into the average.
	maxPlausibleDecodeMs = 1000
)

// Snapshot is a point-in-time copy of the pipeline counters, safe to retain
// after the pipeline moves on.
type Snapshot struct {
	TotalFrames   uint64
	DecodedFrames uint64
	DroppedFrames uint64

	ReceivedFPS float64
	DecodedFPS  float64
	BitrateKbps float64

	AvgDecodeMs float64
	MaxDecodeMs float64

	AvgHostLatencyMs float64
}

func (s *Snapshot) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64(lTotal, s.TotalFrames).
		Uint64(lDecoded, s.DecodedFrames).
		Uint64(lDropped, s.DroppedFrames).
		Float64(lReceivedFPS, s.ReceivedFPS).
		Float64(lDecodedFPS, s.DecodedFPS).
		Float64(lBitrate, s.BitrateKbps).
		Float64(lAvgDecodeMs, s.AvgDecodeMs).
		Float64(lMaxDecodeMs, s.MaxDecodeMs)
}

// statsEngine accumulates pipeline counters. All counters share one mutex and
// one rolling one-second window; rates are recomputed when the window rolls
// over so a Snapshot between rollovers returns the last completed rates.
type statsEngine struct {
	mu sync.Mutex

	totalFrames   uint64
	decodedFrames uint64
	droppedFrames uint64

	windowStart      time.Time
	receivedInWindow uint64
	decodedInWindow  uint64
	bytesInWindow    uint64

	receivedFPS float64
	decodedFPS  float64
	bitrateKbps float64

	avgDecodeMs float64
	maxDecodeMs float64
	emaSeeded   bool

	hostLatencyTotalMs float64
	hostLatencySamples uint64

	now func() time.Time // injectable for tests
}

func newStatsEngine(now func() time.Time) *statsEngine {
	if now == nil {
		now = time.Now
	}

	return &statsEngine{now: now}
}

// RecordReceived notes a frame arriving from the network.
func (s *statsEngine) RecordReceived(sizeBytes int, hostLatencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollWindowLocked()

	s.totalFrames++
	s.receivedInWindow++
	s.bytesInWindow += uint64(sizeBytes)

	if hostLatencyMs > 0 {
		s.hostLatencyTotalMs += hostLatencyMs
		s.hostLatencySamples++
	}
}

// RecordDecoded notes a decoded frame and folds its decode latency into the
// moving average. Samples outside [0, 1000) ms are counted but not averaged.
func (s *statsEngine) RecordDecoded(decodeMs float64, keyframe bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollWindowLocked()

	s.decodedFrames++
	s.decodedInWindow++

	if decodeMs < 0 || decodeMs >= maxPlausibleDecodeMs {
		return
	}

	if !s.emaSeeded {
		s.avgDecodeMs = decodeMs
		s.emaSeeded = true
	} else {
		alpha := emaAlphaPredicted
		if keyframe {
			alpha = emaAlphaKeyframe
		}

		s.avgDecodeMs = alpha*decodeMs + (1-alpha)*s.avgDecodeMs
	}

	if decodeMs > s.maxDecodeMs {
		s.maxDecodeMs = decodeMs
	}
}

// RecordDropped notes n frames lost anywhere in the pipeline.
func (s *statsEngine) RecordDropped(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.droppedFrames += uint64(n)
}

// Snapshot returns a copy of the current counters.
func (s *statsEngine) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollWindowLocked()

	snap := Snapshot{
		TotalFrames:   s.totalFrames,
		DecodedFrames: s.decodedFrames,
		DroppedFrames: s.droppedFrames,
		ReceivedFPS:   s.receivedFPS,
		DecodedFPS:    s.decodedFPS,
		BitrateKbps:   s.bitrateKbps,
		AvgDecodeMs:   s.avgDecodeMs,
		MaxDecodeMs:   s.maxDecodeMs,
	}

	if s.hostLatencySamples > 0 {
		snap.AvgHostLatencyMs = s.hostLatencyTotalMs / float64(s.hostLatencySamples)
	}

	return snap
}

// rollWindowLocked recomputes the per-second rates if the current window has
// elapsed, then starts a new window. Caller holds s.mu.
func (s *statsEngine) rollWindowLocked() {
	now := s.now()

	if s.windowStart.IsZero() {
		s.windowStart = now

		return
	}

	elapsed := now.Sub(s.windowStart)
	if elapsed < statsWindow {
		return
	}

	elapsedMs := float64(elapsed.Milliseconds())

	s.receivedFPS = float64(s.receivedInWindow) * 1000 / elapsedMs
	s.decodedFPS = float64(s.decodedInWindow) * 1000 / elapsedMs
	s.bitrateKbps = float64(s.bytesInWindow) * 8 / elapsedMs

	s.receivedInWindow = 0
	s.decodedInWindow = 0
	s.bytesInWindow = 0
	s.windowStart = now
}
