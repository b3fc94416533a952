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

// Package engine defines the boundary to a video decode engine.
//
// A decode engine exchanges data through a fixed pool of slots: the caller
// borrows an input slot, fills it with one compressed frame, and submits it;
// decoded pictures come back as output slots that must be rendered or
// released. The pool is small, so every borrowed slot must be returned on
// every code path — a leaked slot eventually starves the engine.
package engine

import (
	"errors"
	"time"
)

// SlotHandle is an opaque capability referencing one input or output buffer
// owned by the decode engine. Handles are only meaningful to the engine that
// issued them.
type SlotHandle int32

// Sentinel errors returned across the engine boundary.
var (
	// ErrAgain means the engine is momentarily saturated; the call may be
	// retried.
	ErrAgain = errors.New("engine busy, try again")

	// ErrUnsupported means the requested operating mode is not available on
	// this engine. It is not retryable.
	ErrUnsupported = errors.New("operation not supported by engine")

	// ErrEmpty means no decoded output is available yet.
	ErrEmpty = errors.New("no output available")

	// ErrStreamChanged means the output format changed (e.g. a resolution
	// switch); the current poll produced no frame.
	ErrStreamChanged = errors.New("output stream changed")
)

// FrameAttrs carries the metadata attached to a slot's payload.
type FrameAttrs struct {
	// PTSUs is the presentation timestamp in microseconds.
	PTSUs int64

	// Keyframe is true for self-contained frames.
	Keyframe bool

	// Size is the payload size in bytes.
	Size int
}

// Engine is the synchronous surface of a decode engine. Implementations must
// be safe for one submitter goroutine and one poller goroutine operating
// concurrently.
type Engine interface {
	// AcquireInputSlot borrows an input slot, waiting up to timeout.
	// Returns ErrAgain if no slot frees up in time, or ErrUnsupported if the
	// engine cannot operate in polled mode at all.
	AcquireInputSlot(timeout time.Duration) (SlotHandle, error)

	// FillSlot copies one compressed frame and its metadata into a borrowed
	// input slot. The caller still owns the slot afterwards.
	FillSlot(h SlotHandle, data []byte, attrs FrameAttrs) error

	// SubmitSlot hands a filled input slot to the engine. On success the
	// engine owns the slot again; on error the caller must release it.
	SubmitSlot(h SlotHandle) error

	// PollOutputSlot waits up to timeout for a decoded picture.
	// Returns ErrEmpty when nothing is ready, or ErrStreamChanged when the
	// output format changed instead of producing a frame.
	PollOutputSlot(timeout time.Duration) (SlotHandle, error)

	// OutputAttrs returns the metadata of a decoded output slot.
	OutputAttrs(h SlotHandle) (FrameAttrs, error)

	// RenderSlot presents an output slot and returns it to the engine.
	// A zero `at` renders immediately; otherwise the engine presents the
	// picture at the given wall-clock time.
	RenderSlot(h SlotHandle, at time.Time) error

	// ReleaseSlot returns a borrowed slot, input or output, without
	// submitting or rendering it.
	ReleaseSlot(h SlotHandle) error

	// Close tears down the engine binding and frees all slots.
	Close() error
}

// Callbacks is the event surface for callback-driven engines. The engine
// invokes these on its own threads; implementations must not block and must
// do no more than O(1) work.
type Callbacks struct {
	// OnInputAvailable reports an input slot ready to be filled. The
	// receiver owns the handle until it submits or releases it.
	OnInputAvailable func(h SlotHandle)

	// OnOutputReady reports a decoded picture. The receiver owns the handle
	// until it renders or releases it.
	OnOutputReady func(h SlotHandle, attrs FrameAttrs)

	// OnError reports an asynchronous engine failure.
	OnError func(err error)
}

// CallbackEngine is implemented by engines that can push slot events instead
// of being polled. Registering callbacks switches the engine to asynchronous
// operation; AcquireInputSlot and PollOutputSlot are not used afterwards.
type CallbackEngine interface {
	Engine

	// SetCallbacks registers the event handlers. Must be called before any
	// frame is submitted.
	SetCallbacks(cb Callbacks) error
}
