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

// Package ffmpegengine implements the decode engine boundary on top of
// ffmpeg's software decoders. Input slots wrap reusable packets, output
// slots wrap reusable frames, and the engine is strictly polled — ffmpeg
// has no slot callbacks, so async pipelines must fall back to sync mode.
package ffmpegengine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/rs/zerolog"

	"github.com/TurbineOne/frame-presenter/pkg/engine"
)

const (
	lCodec = "codecID"
	lSlots = "slots"
)

//nolint:gochecknoglobals // allows logging from non-method funcs
var log zerolog.Logger

// outputHandleBase offsets output slot handles so they can't collide with
// input handles.
const outputHandleBase = 1 << 16

// pollInterval is how often PollOutputSlot retries a non-blocking receive
// while it still has timeout budget.
const pollInterval = time.Millisecond

var codecNameToID = map[string]astiav.CodecID{ //nolint:gochecknoglobals // Static table.
	"h264": astiav.CodecIDH264,
	"hevc": astiav.CodecIDHevc,
}

// Config is the ffmpeg engine configuration.
type Config struct { //nolint:govet // Don't care about alignment.
	Codec          string `yaml:"codec" json:"codec" doc:"Video codec of the incoming stream. One of: h264, hevc"`
	InputSlots     int    `yaml:"inputSlots" json:"inputSlots" doc:"Number of reusable input packet slots"`
	OutputSlots    int    `yaml:"outputSlots" json:"outputSlots" doc:"Number of reusable output frame slots"`
	FfmpegLogLevel string `yaml:"ffmpegLogLevel" json:"ffmpegLogLevel" doc:"Log level for the ffmpeg library. One of: quiet, panic, fatal, error, warning, info, verbose, debug"`
}

// ConfigDefault returns the default values for a Config.
func ConfigDefault() Config {
	return Config{
		Codec:          "h264",
		InputSlots:     4,
		OutputSlots:    4,
		FfmpegLogLevel: "error",
	}
}

// RenderFunc receives each decoded frame at (or after) its presentation
// time. The frame is only valid for the duration of the call.
type RenderFunc func(f *astiav.Frame) error

// Engine adapts an ffmpeg decoder to the engine.Engine interface.
// Input handles index the packet pool; output handles index the frame pool
// offset by outputHandleBase.
type Engine struct {
	config *Config
	render RenderFunc

	codecCtx *astiav.CodecContext

	packets []*astiav.Packet
	frames  []*astiav.Frame

	freeInputC  chan engine.SlotHandle
	freeOutputC chan engine.SlotHandle

	// attrsLock protects the attrs map and the last-seen output geometry.
	attrsLock sync.Mutex
	attrs     map[engine.SlotHandle]engine.FrameAttrs
	width     int
	height    int
}

// New returns a new Engine. render receives every decoded frame; a nil
// render discards frames, which is useful for benchmarks.
func New(config *Config, render RenderFunc, logger *zerolog.Logger) *Engine {
	log = logger.With().Str("pkg", "ffmpegengine").Logger()

	ffmpegLoggerSetup(config)

	return &Engine{
		config: config,
		render: render,
		attrs:  make(map[engine.SlotHandle]engine.FrameAttrs),
	}
}

// Init opens the decoder and allocates the slot pools.
func (e *Engine) Init() error {
	codecID, ok := codecNameToID[e.config.Codec]
	if !ok {
		return fmt.Errorf("unknown codec %q", e.config.Codec)
	}

	decCodec := astiav.FindDecoder(codecID)
	if decCodec == nil {
		return fmt.Errorf("no decoder for codec %q", e.config.Codec)
	}

	e.codecCtx = astiav.AllocCodecContext(decCodec)
	// Stream timestamps are in µs; the decoder passes them through.
	e.codecCtx.SetTimeBase(astiav.NewRational(1, 1e6))

	if err := e.codecCtx.Open(decCodec, nil); err != nil {
		e.codecCtx.Free()
		e.codecCtx = nil

		return fmt.Errorf("opening decoder context failed: %w", err)
	}

	e.freeInputC = make(chan engine.SlotHandle, e.config.InputSlots)
	e.freeOutputC = make(chan engine.SlotHandle, e.config.OutputSlots)

	for i := 0; i < e.config.InputSlots; i++ {
		e.packets = append(e.packets, astiav.AllocPacket())
		e.freeInputC <- engine.SlotHandle(i)
	}

	for i := 0; i < e.config.OutputSlots; i++ {
		e.frames = append(e.frames, astiav.AllocFrame())
		e.freeOutputC <- engine.SlotHandle(outputHandleBase + i)
	}

	log.Debug().Str(lCodec, e.config.Codec).
		Int(lSlots, e.config.InputSlots).
		Msg("decoder opened")

	return nil
}

// AcquireInputSlot borrows a packet slot, waiting up to timeout.
func (e *Engine) AcquireInputSlot(timeout time.Duration) (engine.SlotHandle, error) {
	select {
	case h := <-e.freeInputC:
		return h, nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case h := <-e.freeInputC:
		return h, nil
	case <-t.C:
		return -1, engine.ErrAgain
	}
}

// FillSlot copies one compressed frame into a packet slot.
func (e *Engine) FillSlot(h engine.SlotHandle, data []byte, attrs engine.FrameAttrs) error {
	pkt, err := e.inputPacket(h)
	if err != nil {
		return err
	}

	if err := pkt.FromData(data); err != nil {
		return fmt.Errorf("copying packet data failed: %w", err)
	}

	pkt.SetPts(attrs.PTSUs)

	if attrs.Keyframe {
		pkt.SetFlags(pkt.Flags().Add(astiav.PacketFlagKey))
	}

	e.attrsLock.Lock()
	e.attrs[h] = attrs
	e.attrsLock.Unlock()

	return nil
}

// SubmitSlot sends a filled packet to the decoder. The packet slot is
// recycled on success.
func (e *Engine) SubmitSlot(h engine.SlotHandle) error {
	pkt, err := e.inputPacket(h)
	if err != nil {
		return err
	}

	if err := e.codecCtx.SendPacket(pkt); err != nil {
		if errors.Is(err, astiav.ErrEagain) {
			return engine.ErrAgain
		}

		return fmt.Errorf("sending packet to decoder failed: %w", err)
	}

	pkt.Unref()

	e.attrsLock.Lock()
	delete(e.attrs, h)
	e.attrsLock.Unlock()

	e.freeInputC <- h

	return nil
}

// PollOutputSlot waits up to timeout for a decoded frame. A change in the
// decoded picture geometry is reported as ErrStreamChanged before the frame
// that changed it is delivered on a later poll.
func (e *Engine) PollOutputSlot(timeout time.Duration) (engine.SlotHandle, error) {
	var h engine.SlotHandle

	select {
	case h = <-e.freeOutputC:
	default:
		// All output frames are borrowed; the caller is holding them.
		return -1, engine.ErrEmpty
	}

	f, err := e.outputFrame(h)
	if err != nil {
		return -1, err
	}

	deadline := time.Now().Add(timeout)

	for {
		err := e.codecCtx.ReceiveFrame(f)
		if err == nil {
			break
		}

		if !errors.Is(err, astiav.ErrEagain) && !errors.Is(err, astiav.ErrEof) {
			e.freeOutputC <- h

			return -1, fmt.Errorf("receiving frame from decoder failed: %w", err)
		}

		if !time.Now().Before(deadline) {
			e.freeOutputC <- h

			return -1, engine.ErrEmpty
		}

		time.Sleep(pollInterval)
	}

	attrs := engine.FrameAttrs{
		PTSUs:    f.Pts(),
		Keyframe: f.PictureType() == astiav.PictureTypeI,
	}

	e.attrsLock.Lock()
	changed := e.width != 0 && (f.Width() != e.width || f.Height() != e.height)
	e.width = f.Width()
	e.height = f.Height()
	e.attrs[h] = attrs
	e.attrsLock.Unlock()

	if changed {
		// The first frame at the new geometry is sacrificed; the caller
		// gets the change notification and the stream continues from the
		// next picture.
		f.Unref()

		e.attrsLock.Lock()
		delete(e.attrs, h)
		e.attrsLock.Unlock()

		e.freeOutputC <- h

		return -1, engine.ErrStreamChanged
	}

	return h, nil
}

// OutputAttrs returns the metadata of a decoded output slot.
func (e *Engine) OutputAttrs(h engine.SlotHandle) (engine.FrameAttrs, error) {
	e.attrsLock.Lock()
	defer e.attrsLock.Unlock()

	attrs, ok := e.attrs[h]
	if !ok {
		return engine.FrameAttrs{}, fmt.Errorf("no attrs for slot %d", h)
	}

	return attrs, nil
}

// RenderSlot presents a decoded frame, sleeping until its presentation time
// if one is set, then recycles the slot.
func (e *Engine) RenderSlot(h engine.SlotHandle, at time.Time) error {
	f, err := e.outputFrame(h)
	if err != nil {
		return err
	}

	if !at.IsZero() {
		if d := time.Until(at); d > 0 {
			time.Sleep(d)
		}
	}

	var renderErr error
	if e.render != nil {
		renderErr = e.render(f)
	}

	f.Unref()

	e.attrsLock.Lock()
	delete(e.attrs, h)
	e.attrsLock.Unlock()

	e.freeOutputC <- h

	if renderErr != nil {
		return fmt.Errorf("rendering frame failed: %w", renderErr)
	}

	return nil
}

// ReleaseSlot returns a borrowed slot without submitting or rendering it.
func (e *Engine) ReleaseSlot(h engine.SlotHandle) error {
	e.attrsLock.Lock()
	delete(e.attrs, h)
	e.attrsLock.Unlock()

	if h >= outputHandleBase {
		f, err := e.outputFrame(h)
		if err != nil {
			return err
		}

		f.Unref()
		e.freeOutputC <- h

		return nil
	}

	pkt, err := e.inputPacket(h)
	if err != nil {
		return err
	}

	pkt.Unref()
	e.freeInputC <- h

	return nil
}

// Close flushes and frees the decoder and all pooled buffers.
func (e *Engine) Close() error {
	if e.codecCtx != nil {
		// Best practice is to send a nil packet to flush the decoder.
		_ = e.codecCtx.SendPacket(nil)

		if len(e.frames) > 0 {
			var err error
			for err == nil {
				err = e.codecCtx.ReceiveFrame(e.frames[0])
			}
		}

		e.codecCtx.Free()
		e.codecCtx = nil
	}

	for _, pkt := range e.packets {
		pkt.Free()
	}

	for _, f := range e.frames {
		f.Free()
	}

	e.packets = nil
	e.frames = nil

	return nil
}

func (e *Engine) inputPacket(h engine.SlotHandle) (*astiav.Packet, error) {
	if h < 0 || int(h) >= len(e.packets) {
		return nil, fmt.Errorf("bad input slot %d", h)
	}

	return e.packets[h], nil
}

func (e *Engine) outputFrame(h engine.SlotHandle) (*astiav.Frame, error) {
	i := int(h - outputHandleBase)
	if i < 0 || i >= len(e.frames) {
		return nil, fmt.Errorf("bad output slot %d", h)
	}

	return e.frames[i], nil
}
