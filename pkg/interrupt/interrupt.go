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

// Package interrupt converts process signals into an error return, so main
// can treat an interrupt like any other shutdown cause.
package interrupt

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// SignalError reports the signal that interrupted the process.
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("received signal: %s", e.Signal)
}

// Run blocks until the process receives SIGINT or SIGTERM, or ctx is
// canceled. Returns a SignalError for a signal, or ctx.Err().
func Run(ctx context.Context) error {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigC)

	select {
	case sig := <-sigC:
		return &SignalError{Signal: sig}

	case <-ctx.Done():
		return ctx.Err()
	}
}
