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
	"errors"
	"sync"
	"time"

	"github.com/TurbineOne/frame-presenter/pkg/engine"
)

// fakeOutput is a decoded frame waiting to be polled or dispatched.
type fakeOutput struct {
	h     engine.SlotHandle
	attrs engine.FrameAttrs
}

// fakeEngine is a scriptable in-memory decode engine. Submitted frames
// "decode" instantly into the output queue. Error injection fields steer the
// pipeline down its failure paths, and the borrowed map catches slot leaks.
type fakeEngine struct {
	mu sync.Mutex

	freeInputs []engine.SlotHandle
	borrowed   map[engine.SlotHandle]bool
	filled     map[engine.SlotHandle]engine.FrameAttrs

	outputs    []fakeOutput
	nextOutput engine.SlotHandle

	rendered   []engine.FrameAttrs
	renderedAt []time.Time

	// acquireErrs and submitErrs are consumed one per call; once exhausted
	// the calls behave normally.
	acquireErrs []error
	submitErrs  []error

	// pollErr, if set, is returned by every PollOutputSlot call.
	pollErr error

	// streamChangePolls makes the next n successful polls report
	// ErrStreamChanged instead.
	streamChangePolls int

	supportsCallbacks bool
	cb                engine.Callbacks
	cbSet             bool

	closed bool
}

const fakeOutputBase = 1 << 16

func newFakeEngine(inputSlots int) *fakeEngine {
	e := &fakeEngine{
		borrowed:   make(map[engine.SlotHandle]bool),
		filled:     make(map[engine.SlotHandle]engine.FrameAttrs),
		nextOutput: fakeOutputBase,
	}

	for i := 0; i < inputSlots; i++ {
		e.freeInputs = append(e.freeInputs, engine.SlotHandle(i))
	}

	return e
}

func (e *fakeEngine) AcquireInputSlot(_ time.Duration) (engine.SlotHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.acquireErrs) > 0 {
		err := e.acquireErrs[0]
		e.acquireErrs = e.acquireErrs[1:]

		return -1, err
	}

	if len(e.freeInputs) == 0 {
		return -1, engine.ErrAgain
	}

	h := e.freeInputs[0]
	e.freeInputs = e.freeInputs[1:]
	e.borrowed[h] = true

	return h, nil
}

func (e *fakeEngine) FillSlot(h engine.SlotHandle, _ []byte, attrs engine.FrameAttrs) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.borrowed[h] {
		return errNotBorrowed
	}

	e.filled[h] = attrs

	return nil
}

func (e *fakeEngine) SubmitSlot(h engine.SlotHandle) error {
	e.mu.Lock()

	if len(e.submitErrs) > 0 {
		err := e.submitErrs[0]
		e.submitErrs = e.submitErrs[1:]
		e.mu.Unlock()

		return err
	}

	if !e.borrowed[h] {
		e.mu.Unlock()

		return errNotBorrowed
	}

	attrs := e.filled[h]
	delete(e.filled, h)
	delete(e.borrowed, h)

	outH := e.nextOutput
	e.nextOutput++

	var fire []func()

	if e.cbSet {
		// Callback mode decodes straight through; deliver events outside
		// the lock so the receiver can call back into the engine.
		e.borrowed[outH] = true
		e.filled[outH] = attrs
		e.borrowed[h] = true

		cb := e.cb
		fire = append(fire,
			func() { cb.OnOutputReady(outH, attrs) },
			func() { cb.OnInputAvailable(h) },
		)
	} else {
		e.freeInputs = append(e.freeInputs, h)
		e.outputs = append(e.outputs, fakeOutput{h: outH, attrs: attrs})
	}

	e.mu.Unlock()

	for _, f := range fire {
		f()
	}

	return nil
}

func (e *fakeEngine) PollOutputSlot(_ time.Duration) (engine.SlotHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pollErr != nil {
		return -1, e.pollErr
	}

	if e.streamChangePolls > 0 {
		e.streamChangePolls--

		return -1, engine.ErrStreamChanged
	}

	if len(e.outputs) == 0 {
		return -1, engine.ErrEmpty
	}

	o := e.outputs[0]
	e.outputs = e.outputs[1:]
	e.borrowed[o.h] = true
	e.filled[o.h] = o.attrs

	return o.h, nil
}

func (e *fakeEngine) OutputAttrs(h engine.SlotHandle) (engine.FrameAttrs, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	attrs, ok := e.filled[h]
	if !ok {
		return engine.FrameAttrs{}, errNotBorrowed
	}

	return attrs, nil
}

func (e *fakeEngine) RenderSlot(h engine.SlotHandle, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.borrowed[h] {
		return errNotBorrowed
	}

	e.rendered = append(e.rendered, e.filled[h])
	e.renderedAt = append(e.renderedAt, at)
	delete(e.filled, h)
	delete(e.borrowed, h)

	return nil
}

func (e *fakeEngine) ReleaseSlot(h engine.SlotHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.borrowed[h] {
		return errNotBorrowed
	}

	delete(e.borrowed, h)
	delete(e.filled, h)

	if h < fakeOutputBase {
		e.freeInputs = append(e.freeInputs, h)
	}

	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true

	return nil
}

func (e *fakeEngine) SetCallbacks(cb engine.Callbacks) error {
	e.mu.Lock()

	if !e.supportsCallbacks {
		e.mu.Unlock()

		return engine.ErrUnsupported
	}

	e.cb = cb
	e.cbSet = true

	// Hand the whole input pool to the receiver.
	free := e.freeInputs
	e.freeInputs = nil

	for _, h := range free {
		e.borrowed[h] = true
	}

	e.mu.Unlock()

	for _, h := range free {
		cb.OnInputAvailable(h)
	}

	return nil
}

// addInputSlots grows the free pool mid-test, simulating an engine that was
// saturated and recovered.
func (e *fakeEngine) addInputSlots(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := engine.SlotHandle(1000)
	for i := 0; i < n; i++ {
		e.freeInputs = append(e.freeInputs, base+engine.SlotHandle(i))
	}
}

// borrowedCount reports slots currently owned by the pipeline. Zero after
// Stop means no code path leaked a slot.
func (e *fakeEngine) borrowedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.borrowed)
}

func (e *fakeEngine) renderedFrames() []engine.FrameAttrs {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]engine.FrameAttrs(nil), e.rendered...)
}

// renderDeadlines returns the `at` deadline passed to each RenderSlot call,
// in render order.
func (e *fakeEngine) renderDeadlines() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]time.Time(nil), e.renderedAt...)
}

var errNotBorrowed = errors.New("fake engine: slot not borrowed")
