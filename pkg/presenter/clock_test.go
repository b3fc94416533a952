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

// fakeNow is a settable wall clock for tests.
type fakeNow struct {
	t time.Time
}

func newFakeNow() *fakeNow {
	return &fakeNow{t: time.Unix(1000, 0)}
}

func (n *fakeNow) Now() time.Time {
	return n.t
}

func (n *fakeNow) Advance(d time.Duration) {
	n.t = n.t.Add(d)
}

func TestClockAnchorsOnFirstFrame(t *testing.T) {
	t.Parallel()

	now := newFakeNow()
	c := newPresentationClock(60, now.Now)

	at := c.PresentationTime(100000)
	require.Equal(t, now.t.UnixNano(), at.UnixNano())
}

func TestClockPacesFromAnchor(t *testing.T) {
	t.Parallel()

	now := newFakeNow()
	c := newPresentationClock(60, now.Now)

	base := c.PresentationTime(100000)

	// 16.67ms later in stream time, 5ms later on the wall: the frame is
	// early and keeps its stream-relative slot.
	now.Advance(5 * time.Millisecond)

	at := c.PresentationTime(116667)
	require.Equal(t, base.Add(16667*time.Microsecond).UnixNano(), at.UnixNano())
}

func TestClockReAnchorsWhenBehind(t *testing.T) {
	t.Parallel()

	now := newFakeNow()
	c := newPresentationClock(60, now.Now)

	c.PresentationTime(100000)

	// Decode stalled: the next frame's slot is 300ms in the past.
	now.Advance(300 * time.Millisecond)

	interval := time.Second / 60

	at := c.PresentationTime(116667)
	require.Equal(t, now.t.Add(interval/2).UnixNano(), at.UnixNano())

	// The anchor slid forward: the following frame paces off the late one,
	// not the original anchor.
	next := c.PresentationTime(133334)
	require.Equal(t, at.Add(16667*time.Microsecond).UnixNano(), next.UnixNano())
}

func TestClockReset(t *testing.T) {
	t.Parallel()

	now := newFakeNow()
	c := newPresentationClock(60, now.Now)

	c.PresentationTime(100000)
	now.Advance(time.Hour)
	c.Reset()

	// Fresh anchor: pts is unrelated to the old stream, but the first frame
	// still presents immediately.
	at := c.PresentationTime(5)
	require.Equal(t, now.t.UnixNano(), at.UnixNano())
}
