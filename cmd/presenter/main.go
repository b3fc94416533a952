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

package main

import (
	"context"
	"errors"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TurbineOne/frame-presenter/pkg/ffmpegengine"
	"github.com/TurbineOne/frame-presenter/pkg/interrupt"
	"github.com/TurbineOne/frame-presenter/pkg/presenter"
)

var log zerolog.Logger //nolint:gochecknoglobals // Don't care.

// errStreamEnded signals a normal end of input.
var errStreamEnded = errors.New("input stream ended")

func main() {
	initConfig() // May early exit if config init fails.

	nals, err := loadBitstream(currentConfig.Input.Path, currentConfig.Engine.Codec)
	if err != nil {
		log.Error().Err(err).Msg("failed to load input")

		return
	}

	render := func(f *astiav.Frame) error {
		log.Trace().Int64("pts", f.Pts()).
			Int("width", f.Width()).Int("height", f.Height()).
			Msg("frame presented")

		return nil
	}

	eng := ffmpegengine.New(&currentConfig.Engine, render, &log)
	if err := eng.Init(); err != nil {
		log.Error().Err(err).Msg("failed to initialize decode engine")

		return
	}

	p := presenter.New(&currentConfig.Presenter, eng, &log)
	if err := p.Init(); err != nil {
		log.Error().Err(err).Msg("failed to initialize pipeline")

		return
	}

	if err := p.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start pipeline")

		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return interrupt.Run(ctx)
	})

	g.Go(func() error {
		return feed(ctx, p, nals)
	})

	g.Go(func() error {
		return logStats(ctx, p)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, errStreamEnded) && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutting down")
	}

	if err := p.Cleanup(); err != nil {
		log.Error().Err(err).Msg("pipeline teardown failed")
	}

	log.Info().Msg("stopped")
}

// feed submits NAL units at the configured frame rate, as if they were
// arriving from a network receiver.
func feed(ctx context.Context, p *presenter.Pipeline, nals []nalUnit) error {
	fps := currentConfig.Presenter.FPS
	if fps <= 0 {
		fps = 60
	}

	ptsInterval := int64(time.Second/time.Microsecond) / int64(fps)

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var (
		frameNumber uint32
		ptsUs       int64
	)

	for {
		for _, n := range nals {
			// Parameter sets ride along immediately; only picture data
			// waits for the frame tick.
			if n.vcl {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			ft := presenter.FrameTypePredicted
			if n.idr {
				ft = presenter.FrameTypeKey
			}

			if err := p.SubmitDecodeUnit(n.data, frameNumber, ft, ptsUs, 0); err != nil {
				return err
			}

			if n.vcl {
				frameNumber++
				ptsUs += ptsInterval
			}
		}

		if !currentConfig.Input.Loop {
			return errStreamEnded
		}
	}
}

// logStats emits a stats line once a second, mirroring the overlay a real
// client would draw.
func logStats(ctx context.Context, p *presenter.Pipeline) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := p.Stats()
			log.Info().Object("stats", &snap).Msg("")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
