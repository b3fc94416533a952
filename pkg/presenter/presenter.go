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

// Package presenter schedules compressed video frames into a decode engine
// and presents the decoded pictures on time.
//
// Frames are normally handed straight to the engine on the caller's
// goroutine; a small fallback queue absorbs moments when the engine has no
// free input slot. A decode worker drains the queue, collects decoded output,
// and renders it, either by polling the engine or, on engines that support
// it, by reacting to engine callbacks.
package presenter

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/TurbineOne/frame-presenter/pkg/engine"
)

const (
	lAvgDecodeMs = "avgDecodeMs"
	lBitrate     = "bitrateKbps"
	lCapacity    = "capacity"
	lDecoded     = "decoded"
	lDecodedFPS  = "decodedFPS"
	lDropped     = "dropped"
	lFrame       = "frame"
	lKeyframe    = "keyframe"
	lMaxDecodeMs = "maxDecodeMs"
	lMode        = "mode"
	lPollErrors  = "pollErrors"
	lPTS         = "pts"
	lQueueLen    = "queueLen"
	lReceivedFPS = "receivedFPS"
	lSize        = "size"
	lTotal       = "total"
)

//nolint:gochecknoglobals // allows logging from non-method funcs
var log zerolog.Logger

// Pipeline operating modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Render policies. The policy governs the callback dispatcher; the polled
// worker always renders immediately so decoded slots go back to the engine
// without waiting out a presentation deadline.
const (
	// RenderTimed paces each frame to its presentation time.
	RenderTimed = "timed"

	// RenderImmediate presents each frame as soon as it is decoded.
	RenderImmediate = "immediate"
)

// Fallback queue capacity bounds. Below the floor the queue cannot ride out
// a single slow decode; above the ceiling it adds latency with no benefit.
const (
	queueCapacityMin = 2
	queueCapacityMax = 16
)

// ErrStopped is returned by SubmitDecodeUnit after the pipeline stops or
// fails.
var ErrStopped = errors.New("pipeline is not running")

// ErrEmptyFrame is returned by SubmitDecodeUnit for a zero-length payload.
var ErrEmptyFrame = errors.New("empty decode unit")

// Config is the presenter configuration.
type Config struct { //nolint:govet // Don't care about alignment.
	Mode         string `yaml:"mode" json:"mode" doc:"Decode worker mode. One of: sync, async"`
	BufferCount  int    `yaml:"bufferCount" json:"bufferCount" doc:"Fallback queue capacity, clamped to [2, 16]"`
	FPS          int    `yaml:"fps" json:"fps" doc:"Nominal stream frame rate, used to pace presentation"`
	RenderPolicy string `yaml:"renderPolicy" json:"renderPolicy" doc:"Frame render policy. One of: timed, immediate"`
	LogLevel     string `yaml:"logLevel" json:"logLevel" doc:"Overrides the global log level for this package"`
}

// ConfigDefault returns the default values for a Config.
func ConfigDefault() Config {
	return Config{
		Mode:         ModeSync,
		BufferCount:  queueCapacityMin,
		FPS:          60,
		RenderPolicy: RenderTimed,
		LogLevel:     zerolog.InfoLevel.String(),
	}
}

// Pipeline drives one decode engine: it accepts compressed frames from the
// network receiver, schedules them into the engine, and presents the decoded
// pictures. Create with New, then Init, Start, and eventually Stop.
type Pipeline struct {
	config *Config
	engine engine.Engine

	queue  *fallbackQueue
	ledger *timestampLedger
	clock  *presentationClock
	stats  *statsEngine

	// mode is fixed at Start, except for the one-way switch to async when
	// the engine rejects polled operation.
	mode      string
	asyncMode atomic.Bool

	// submitMu serializes every submission into the engine, and the one-way
	// switch to callback operation. The engine contract allows only one
	// submitter at a time; this is the lock that makes it so.
	submitMu   sync.Mutex
	asyncDone  bool // guarded by submitMu
	inputSlotC chan engine.SlotHandle
	outputC    chan asyncOutput

	renderTimed atomic.Bool

	started bool
	stopC   chan struct{}
	wg      sync.WaitGroup

	failMu  sync.Mutex
	failErr error

	now func() time.Time // injectable for tests
}

// New returns a new Pipeline using the given decode engine.
func New(config *Config, eng engine.Engine, logger *zerolog.Logger) *Pipeline {
	log = logger.With().Str("pkg", "presenter").Logger()

	if config.LogLevel != ConfigDefault().LogLevel {
		level, err := zerolog.ParseLevel(config.LogLevel)
		if err != nil {
			panic(err.Error())
		}

		log = log.Level(level)
	}

	p := &Pipeline{
		config: config,
		engine: eng,
		now:    time.Now,
	}
	p.renderTimed.Store(config.RenderPolicy != RenderImmediate)

	return p
}

// Init validates the configuration and allocates the pipeline state.
// The queue capacity is clamped rather than rejected; a caller asking for an
// out-of-range depth still gets a working pipeline.
func (p *Pipeline) Init() error {
	switch p.config.Mode {
	case ModeSync, ModeAsync:
	default:
		return fmt.Errorf("%w: mode %q", errBadConfig, p.config.Mode)
	}

	capacity := p.config.BufferCount
	if capacity < queueCapacityMin {
		capacity = queueCapacityMin
	} else if capacity > queueCapacityMax {
		capacity = queueCapacityMax
	}

	if capacity != p.config.BufferCount {
		log.Warn().Int(lCapacity, capacity).
			Msg("buffer count out of range, clamped")
	}

	p.mode = p.config.Mode
	p.queue = newFallbackQueue(capacity)
	p.ledger = newTimestampLedger()
	p.clock = newPresentationClock(p.config.FPS, p.now)
	p.stats = newStatsEngine(p.now)
	p.stopC = make(chan struct{})
	p.inputSlotC = make(chan engine.SlotHandle, slotEventBuffer)
	p.outputC = make(chan asyncOutput, slotEventBuffer)

	// Init after Cleanup must start from scratch; nothing from a previous
	// run carries over.
	p.asyncMode.Store(false)
	p.asyncDone = false

	p.failMu.Lock()
	p.failErr = nil
	p.failMu.Unlock()

	return nil
}

// SetBufferCount replaces the fallback queue capacity. Only allowed before
// Start; frames already queued would otherwise be silently rebounded.
func (p *Pipeline) SetBufferCount(n int) error {
	if p.started {
		return fmt.Errorf("%w: buffer count", errRunning)
	}

	p.config.BufferCount = n

	return p.Init()
}

// SetMode selects the decode worker mode. Only allowed before Start.
func (p *Pipeline) SetMode(mode string) error {
	if p.started {
		return fmt.Errorf("%w: mode", errRunning)
	}

	p.config.Mode = mode

	return p.Init()
}

// SetRenderPolicy switches between timed and immediate rendering. Safe at
// any time; it affects frames decoded after the call. Switching to timed
// rendering re-anchors the presentation clock, since the old anchor drifted
// while frames were presented immediately.
func (p *Pipeline) SetRenderPolicy(policy string) {
	timed := policy != RenderImmediate

	if p.renderTimed.Swap(timed) != timed && timed && p.clock != nil {
		p.clock.Reset()
	}

	log.Info().Str(lMode, policy).Msg("render policy changed")
}

// Start launches the decode worker. In async mode the engine must support
// callbacks; in sync mode the worker may still switch to callbacks later if
// the engine refuses to be polled.
func (p *Pipeline) Start() error {
	if p.started {
		return fmt.Errorf("%w: start", errRunning)
	}

	if p.mode == ModeAsync {
		if err := p.startAsync(); err != nil {
			return err
		}
	} else {
		p.wg.Add(1)

		go func() {
			defer p.wg.Done()
			p.runSyncWorker()
		}()
	}

	p.started = true

	log.Info().Str(lMode, p.mode).
		Int(lCapacity, p.queue.capacity).
		Msg("pipeline started")

	return nil
}

// Stop halts the workers and drops any frames still queued. The engine
// stays open; Cleanup releases it. The pipeline cannot be restarted.
func (p *Pipeline) Stop() error {
	if !p.started {
		return nil
	}

	close(p.stopC)
	p.wg.Wait()

	if n := p.queue.Clear(); n > 0 {
		p.stats.RecordDropped(n)
		log.Debug().Int(lDropped, n).Msg("dropped queued frames at stop")
	}

	p.ledger.Clear()
	p.started = false

	snap := p.stats.Snapshot()
	log.Info().Object("stats", &snap).Msg("pipeline stopped")

	return nil
}

// Cleanup stops the pipeline if it is still running and tears down the
// engine binding.
func (p *Pipeline) Cleanup() error {
	if p.started {
		_ = p.Stop()
	}

	return p.engine.Close()
}

// SubmitDecodeUnit accepts one compressed frame from the network receiver.
// The data is copied before return, so the caller may reuse its buffer.
// hostLatencyMs is the time the frame spent on the host before arriving
// here, if known; pass 0 otherwise.
//
// Submission never blocks on the decoder: if the engine has no free slot the
// frame lands in the fallback queue, possibly evicting the oldest entry.
// Only a dead pipeline returns an error.
func (p *Pipeline) SubmitDecodeUnit(data []byte, frameNumber uint32,
	frameType FrameType, timestampUs int64, hostLatencyMs float64,
) error {
	if err := p.Err(); err != nil {
		return err
	}

	if len(data) == 0 {
		return ErrEmptyFrame
	}

	select {
	case <-p.stopC:
		return ErrStopped
	default:
	}

	p.stats.RecordReceived(len(data), hostLatencyMs)

	f := pendingFrame{
		data:        append([]byte(nil), data...),
		frameNumber: frameNumber,
		keyframe:    frameType == FrameTypeKey,
		ptsUs:       timestampUs,
	}

	// Serialized with the worker's queue drain and with the mode switch, so
	// the engine only ever sees one submitter and a frame arriving during
	// the switch cannot jump ahead of the queued backlog.
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	if p.isAsync() {
		p.submitAsync(f)

		return nil
	}

	p.submitDirect(f)

	return nil
}

// Stats returns a copy of the current pipeline counters.
func (p *Pipeline) Stats() Snapshot {
	return p.stats.Snapshot()
}

// Err returns the error that killed the pipeline, or nil while it is
// healthy.
func (p *Pipeline) Err() error {
	p.failMu.Lock()
	defer p.failMu.Unlock()

	return p.failErr
}

// failPipeline records the first fatal error. The worker notices stopC is
// not closed yet but Err() is set, and the owner is expected to Stop.
func (p *Pipeline) failPipeline(err error) {
	p.failMu.Lock()
	defer p.failMu.Unlock()

	if p.failErr != nil {
		return
	}

	p.failErr = err
	log.Error().Err(err).Msg("pipeline failed")
}

func (p *Pipeline) isAsync() bool {
	return p.asyncMode.Load()
}

// renderAt returns the wall-clock deadline for a decoded frame, or the zero
// time for immediate rendering.
func (p *Pipeline) renderAt(ptsUs int64) time.Time {
	if !p.renderTimed.Load() {
		return time.Time{}
	}

	return p.clock.PresentationTime(ptsUs)
}

//nolint:gochecknoglobals // sentinels
var (
	errBadConfig = errors.New("invalid presenter config")
	errRunning   = errors.New("pipeline already started, setting rejected")
)
