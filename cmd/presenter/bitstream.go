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
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/TurbineOne/frame-presenter/pkg/mimer"
)

// nalUnit is one network abstraction layer unit from an Annex B stream,
// without its start code.
type nalUnit struct {
	data []byte
	vcl  bool // carries picture data, advances the timestamp
	idr  bool
}

// containerMIMEPrefixes are sniffed types that mean the user pointed us at a
// container file instead of a raw elementary stream. The decoder would choke
// on the container framing with confusing errors, so we reject it up front.
var containerMIMEPrefixes = []string{ //nolint:gochecknoglobals // Static table.
	"video/mp4",
	"video/mp2t",
	"video/quicktime",
	"video/webm",
	"video/x-matroska",
	"video/x-msvideo",
	"application/ogg",
}

// loadBitstream reads an Annex B elementary stream and splits it into NAL
// units.
func loadBitstream(path, codec string) ([]nalUnit, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bitstream failed: %w", err)
	}

	mime := mimer.GetContentType(path)
	for _, prefix := range containerMIMEPrefixes {
		if strings.HasPrefix(mime, prefix) {
			return nil, fmt.Errorf("input [%s] looks like %s; an Annex B elementary stream is required", path, mime)
		}
	}

	if mime == mimer.MediaTypeH264AnnexB && codec != "h264" ||
		mime == mimer.MediaTypeHEVCAnnexB && codec != "hevc" {
		log.Warn().Str("mime", mime).Str("codec", codec).
			Msg("input stream type does not match configured codec")
	}

	nals := splitAnnexB(b)
	if len(nals) == 0 {
		return nil, fmt.Errorf("no start codes found in [%s]", path)
	}

	for i := range nals {
		classifyNAL(&nals[i], codec)
	}

	return nals, nil
}

// splitAnnexB splits a buffer on 00 00 01 / 00 00 00 01 start codes.
func splitAnnexB(b []byte) []nalUnit {
	startCode := []byte{0, 0, 1}

	var nals []nalUnit

	i := bytes.Index(b, startCode)
	for i >= 0 {
		b = b[i+len(startCode):]

		next := bytes.Index(b, startCode)

		end := len(b)
		if next >= 0 {
			end = next
			// A 4-byte start code puts its leading zero at the tail of the
			// previous NAL.
			if end > 0 && b[end-1] == 0 {
				end--
			}
		}

		if end > 0 {
			nals = append(nals, nalUnit{data: b[:end]})
		}

		i = next
	}

	return nals
}

// classifyNAL marks whether a NAL unit is picture data and whether it starts
// a random-access point.
func classifyNAL(n *nalUnit, codec string) {
	if len(n.data) == 0 {
		return
	}

	if codec == "hevc" {
		nalType := (n.data[0] >> 1) & 0x3f

		// Types 0-31 are VCL; 16-21 are IRAP pictures (BLA, IDR, CRA).
		n.vcl = nalType < 32
		n.idr = nalType >= 16 && nalType <= 21

		return
	}

	// h264
	nalType := n.data[0] & 0x1f

	n.vcl = nalType >= 1 && nalType <= 5
	n.idr = nalType == 5
}
