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
	"fmt"

	"github.com/TurbineOne/frame-presenter/pkg/engine"
)

// slotEventBuffer sizes the channels bridging engine callbacks to pipeline
// goroutines. Larger than any plausible engine slot pool, so a callback only
// finds a full channel if the dispatcher has wedged.
const slotEventBuffer = 32

// asyncOutput is one decoded-frame event from a callback engine.
type asyncOutput struct {
	h     engine.SlotHandle
	attrs engine.FrameAttrs
}

// startAsync puts the pipeline into callback mode at startup.
func (p *Pipeline) startAsync() error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	if p.asyncDone {
		return nil
	}

	p.asyncDone = true

	if err := p.enableCallbacks(); err != nil {
		return err
	}

	p.asyncMode.Store(true)

	return nil
}

// switchToAsync is the one-way escape hatch taken when a polled call returns
// ErrUnsupported mid-stream. The frame that hit the error, then anything
// still queued, is pushed through the callback path so nothing submitted so
// far is lost. If the engine can't do callbacks either, the pipeline is
// dead.
//
// Called with submitMu held, which is what keeps the switch safe: no other
// goroutine can submit until the backlog has gone through, and asyncMode
// only flips once the engine has seen every frame submitted before the
// switch.
func (p *Pipeline) switchToAsync(f *pendingFrame) {
	if p.asyncDone {
		// Another goroutine finished the switch while this one was blocked
		// on submitMu; its frame just takes the callback path.
		p.submitAsync(*f)

		return
	}

	p.asyncDone = true

	log.Info().Str(lMode, ModeAsync).
		Msg("engine refused polled operation, switching modes")

	if err := p.enableCallbacks(); err != nil {
		p.stats.RecordDropped(1) // the frame that tripped the switch
		p.failPipeline(err)

		return
	}

	// Old submissions were discarded with the polled session, so their
	// timestamps no longer anchor anything.
	p.ledger.Clear()
	p.clock.Reset()

	p.submitAsync(*f)

	for {
		qf, ok := p.queue.Pop()
		if !ok {
			break
		}

		p.submitAsync(qf)
	}

	p.asyncMode.Store(true)
}

// enableCallbacks registers the pipeline with a callback engine and starts
// the output dispatcher. The callbacks themselves only forward events into
// channels; all real work happens on pipeline goroutines.
func (p *Pipeline) enableCallbacks() error {
	ce, ok := p.engine.(engine.CallbackEngine)
	if !ok {
		return fmt.Errorf("%w: engine has no callback support", engine.ErrUnsupported)
	}

	cb := engine.Callbacks{
		OnInputAvailable: func(h engine.SlotHandle) {
			select {
			case p.inputSlotC <- h:
			default:
				_ = p.engine.ReleaseSlot(h)
			}
		},
		OnOutputReady: func(h engine.SlotHandle, attrs engine.FrameAttrs) {
			select {
			case p.outputC <- asyncOutput{h: h, attrs: attrs}:
			default:
				_ = p.engine.ReleaseSlot(h)
				p.stats.RecordDropped(1)
			}
		},
		OnError: func(err error) {
			p.failPipeline(err)
		},
	}

	if err := ce.SetCallbacks(cb); err != nil {
		return fmt.Errorf("registering engine callbacks: %w", err)
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.runDispatcher()
	}()

	return nil
}

// runDispatcher renders decoded frames delivered by engine callbacks.
func (p *Pipeline) runDispatcher() {
	for {
		select {
		case <-p.stopC:
			p.drainSlots()

			return

		case o := <-p.outputC:
			p.handleOutput(o)
		}
	}
}

func (p *Pipeline) handleOutput(o asyncOutput) {
	p.recordDecode(o.attrs)

	if err := p.engine.RenderSlot(o.h, p.renderAt(o.attrs.PTSUs)); err != nil {
		_ = p.engine.ReleaseSlot(o.h)
		log.Debug().Err(err).Int64(lPTS, o.attrs.PTSUs).
			Msg("render failed, released output slot")
	}
}

// drainSlots releases any slots still in flight at shutdown so the engine
// can free them.
func (p *Pipeline) drainSlots() {
	for {
		select {
		case o := <-p.outputC:
			_ = p.engine.ReleaseSlot(o.h)
		case h := <-p.inputSlotC:
			_ = p.engine.ReleaseSlot(h)
		default:
			return
		}
	}
}
