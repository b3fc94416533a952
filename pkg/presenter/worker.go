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
	"fmt"
	"time"

	"github.com/TurbineOne/frame-presenter/pkg/engine"
)

const (
	// drainBatchSize bounds how many queued frames the worker pushes into
	// the engine before checking for decoded output again.
	drainBatchSize = 4

	outputPollTimeout = 5 * time.Millisecond

	// idleWait is how long the worker sleeps when there is nothing to
	// submit and nothing to collect.
	idleWait = 2 * time.Millisecond

	// maxConsecutivePollErrors is the point where output errors stop
	// looking transient and the pipeline is declared dead.
	maxConsecutivePollErrors = 50
)

// runSyncWorker is the polled-mode decode loop: drain the fallback queue
// into the engine, collect decoded output, sleep only when both sides are
// idle. Exits when the pipeline stops, fails, or switches to callback mode.
func (p *Pipeline) runSyncWorker() {
	pollErrors := 0

	for {
		select {
		case <-p.stopC:
			return
		default:
		}

		if p.isAsync() || p.Err() != nil {
			return
		}

		submitted := p.drainPending()
		if p.isAsync() {
			// drainPending hit ErrUnsupported and handed off to the
			// callback dispatcher.
			return
		}

		rendered, err := p.pollOutputOnce()

		switch {
		case err == nil:
			pollErrors = 0

		case errors.Is(err, engine.ErrEmpty):
			pollErrors = 0

		case errors.Is(err, engine.ErrStreamChanged):
			pollErrors = 0

			p.clock.Reset()
			log.Info().Msg("output stream changed, presentation clock reset")

		default:
			pollErrors++
			log.Debug().Err(err).Int(lPollErrors, pollErrors).
				Msg("output poll failed")

			if pollErrors >= maxConsecutivePollErrors {
				p.failPipeline(fmt.Errorf("decoder output stuck: %w", err))

				return
			}
		}

		if submitted == 0 && !rendered {
			p.queue.Wait(idleWait, p.stopC)
		}
	}
}

// drainPending moves up to drainBatchSize queued frames into the engine and
// returns how many it submitted. A frame refused with ErrAgain goes back to
// the head of the queue; anything else drops it. Holds submitMu so the
// worker and the network goroutine never submit to the engine at the same
// time.
func (p *Pipeline) drainPending() int {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	submitted := 0

	for submitted < drainBatchSize {
		f, ok := p.queue.Pop()
		if !ok {
			break
		}

		err := p.trySubmitOne(&f)
		if err == nil {
			submitted++

			continue
		}

		if errors.Is(err, engine.ErrAgain) {
			if dropped := p.queue.Requeue(f); dropped {
				p.stats.RecordDropped(1)
			}

			break
		}

		if errors.Is(err, engine.ErrUnsupported) {
			p.switchToAsync(&f)

			return submitted
		}

		p.stats.RecordDropped(1)
		log.Warn().Err(err).Object(lFrame, &f).
			Msg("queued frame rejected by engine, dropped")
	}

	return submitted
}

// pollOutputOnce collects at most one decoded frame and renders it. Returns
// whether a frame was rendered, and the engine error if the poll failed.
func (p *Pipeline) pollOutputOnce() (rendered bool, err error) {
	h, err := p.engine.PollOutputSlot(outputPollTimeout)
	if err != nil {
		return false, err
	}

	attrs, err := p.engine.OutputAttrs(h)
	if err != nil {
		_ = p.engine.ReleaseSlot(h)

		return false, err
	}

	p.recordDecode(attrs)

	// Always the zero time here: the worker must not sit on a decoded slot
	// until a presentation deadline, or the engine's small output pool runs
	// dry while decode stalls behind it. Timed pacing is the callback
	// dispatcher's job.
	if err := p.engine.RenderSlot(h, time.Time{}); err != nil {
		_ = p.engine.ReleaseSlot(h)

		return false, err
	}

	return true, nil
}

// recordDecode folds one decoded frame into the stats, using the ledger to
// recover its decode latency. A frame missing from the ledger (evicted, or
// produced by a flush) still counts as decoded, just without a latency
// sample.
func (p *Pipeline) recordDecode(attrs engine.FrameAttrs) {
	decodeMs := float64(-1)

	if enqueueMs, ok := p.ledger.Take(attrs.PTSUs); ok {
		decodeMs = float64(p.now().UnixMilli() - enqueueMs)
	}

	p.stats.RecordDecoded(decodeMs, attrs.Keyframe)
}
