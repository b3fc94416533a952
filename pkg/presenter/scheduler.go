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
	"time"

	"github.com/TurbineOne/frame-presenter/pkg/engine"
)

const (
	// directSubmitRetries bounds the acquire attempts made on the
	// submitter's goroutine before a frame is diverted to the fallback
	// queue. Each attempt already waits acquireTimeout, so the submitter
	// never stalls for more than retries × timeout.
	directSubmitRetries = 5
	acquireTimeout      = 8 * time.Millisecond

	// asyncSubmitTimeout is how long the async path waits for the engine to
	// offer an input slot before dropping the frame.
	asyncSubmitTimeout = 50 * time.Millisecond
)

// trySubmitOne moves one frame into the engine: acquire, fill, submit. On
// any failure the borrowed slot is released and the ledger entry rolled
// back, so no path leaks a slot.
func (p *Pipeline) trySubmitOne(f *pendingFrame) error {
	h, err := p.engine.AcquireInputSlot(acquireTimeout)
	if err != nil {
		return err
	}

	return p.fillAndSubmit(h, f)
}

// fillAndSubmit completes a submission on an already-borrowed input slot.
func (p *Pipeline) fillAndSubmit(h engine.SlotHandle, f *pendingFrame) error {
	attrs := engine.FrameAttrs{
		PTSUs:    f.ptsUs,
		Keyframe: f.keyframe,
		Size:     len(f.data),
	}

	if err := p.engine.FillSlot(h, f.data, attrs); err != nil {
		_ = p.engine.ReleaseSlot(h)

		return err
	}

	p.ledger.Put(f.ptsUs, p.now().UnixMilli())

	if err := p.engine.SubmitSlot(h); err != nil {
		_ = p.engine.ReleaseSlot(h)
		_, _ = p.ledger.Take(f.ptsUs)

		return err
	}

	return nil
}

// submitDirect is the polled-mode submission path: try the engine a bounded
// number of times, then fall back to the queue. Frames behind a non-empty
// queue go straight to the queue so decode order is preserved.
func (p *Pipeline) submitDirect(f pendingFrame) {
	if p.queue.Len() == 0 {
		for i := 0; i < directSubmitRetries; i++ {
			err := p.trySubmitOne(&f)
			if err == nil {
				return
			}

			if errors.Is(err, engine.ErrUnsupported) {
				p.switchToAsync(&f)

				return
			}

			if !errors.Is(err, engine.ErrAgain) {
				log.Warn().Err(err).Object(lFrame, &f).
					Msg("direct submit failed, queueing frame")

				break
			}
		}
	}

	if evicted := p.queue.Push(f); evicted {
		p.stats.RecordDropped(1)
		log.Debug().Int(lQueueLen, p.queue.Len()).
			Msg("fallback queue full, dropped oldest frame")
	}
}

// submitAsync is the callback-mode submission path: wait briefly for the
// engine to offer an input slot, then fill and submit on this goroutine.
// A frame that can't find a slot in time is dropped; in callback mode the
// engine is the sole source of backpressure.
func (p *Pipeline) submitAsync(f pendingFrame) {
	t := time.NewTimer(asyncSubmitTimeout)
	defer t.Stop()

	select {
	case h := <-p.inputSlotC:
		if err := p.fillAndSubmit(h, &f); err != nil {
			p.stats.RecordDropped(1)
			log.Warn().Err(err).Object(lFrame, &f).
				Msg("async submit failed, dropped frame")
		}

	case <-t.C:
		p.stats.RecordDropped(1)
		log.Debug().Object(lFrame, &f).
			Msg("no input slot within deadline, dropped frame")

	case <-p.stopC:
		// Stop accounts for frames it found in the queue; a frame caught
		// mid-submit has to count itself.
		p.stats.RecordDropped(1)
	}
}
