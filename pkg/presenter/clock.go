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
)

// presentationClock maps stream timestamps to wall-clock presentation times.
//
// The first frame anchors the mapping: its pts is pinned to the wall clock at
// the moment it is scheduled, and every later frame is presented at
// anchor + (pts - anchorPts). If decode stalls long enough that a frame's
// target lands in the past, the clock slides the anchor forward rather than
// rushing frames out back-to-back, so pacing recovers smoothly instead of
// bursting.
type presentationClock struct {
	mu sync.Mutex

	baseWallNs int64 // wall-clock anchor, ns; 0 means unanchored
	basePtsUs  int64 // stream timestamp pinned to baseWallNs

	frameIntervalNs int64

	now func() time.Time // injectable for tests
}

func newPresentationClock(fps int, now func() time.Time) *presentationClock {
	if fps <= 0 {
		fps = 60
	}

	if now == nil {
		now = time.Now
	}

	return &presentationClock{
		frameIntervalNs: int64(time.Second) / int64(fps),
		now:             now,
	}
}

// PresentationTime returns the wall-clock time at which the frame with the
// given pts should be displayed, anchoring the clock on first use.
func (c *presentationClock) PresentationTime(ptsUs int64) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowNs := c.now().UnixNano()

	if c.baseWallNs == 0 {
		c.baseWallNs = nowNs
		c.basePtsUs = ptsUs

		return time.Unix(0, nowNs)
	}

	deltaNs := (ptsUs - c.basePtsUs) * int64(time.Microsecond)
	targetNs := c.baseWallNs + deltaNs

	if targetNs < nowNs {
		// Running behind. Present half a frame interval from now and
		// re-anchor so subsequent frames pace from the new baseline.
		targetNs = nowNs + c.frameIntervalNs/2
		c.baseWallNs = targetNs - deltaNs
	}

	return time.Unix(0, targetNs)
}

// Reset discards the anchor. The next frame re-anchors the clock, which is
// required after a stream change or a mode switch where old timestamps no
// longer relate to the wall clock.
func (c *presentationClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.baseWallNs = 0
	c.basePtsUs = 0
}
