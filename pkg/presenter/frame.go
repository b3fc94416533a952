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

import "github.com/rs/zerolog"

// FrameType distinguishes self-contained frames from frames that reference
// earlier ones.
type FrameType int

const (
	// FrameTypePredicted is a frame that depends on previously decoded frames.
	FrameTypePredicted FrameType = iota

	// FrameTypeKey is a self-contained frame.
	FrameTypeKey
)

func (t FrameType) String() string {
	if t == FrameTypeKey {
		return "key"
	}

	return "predicted"
}

// pendingFrame is one entry in the fallback queue: an owned copy of a
// compressed frame plus the metadata needed to submit it later.
type pendingFrame struct {
	data        []byte
	frameNumber uint32
	keyframe    bool
	ptsUs       int64
}

func (f *pendingFrame) MarshalZerologObject(e *zerolog.Event) {
	e.Uint32(lFrame, f.frameNumber).
		Int64(lPTS, f.ptsUs).
		Bool(lKeyframe, f.keyframe).
		Int(lSize, len(f.data))
}
