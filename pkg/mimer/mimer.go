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

// mimer is a helper package to determine the mime type of a file.
// On top of the stock sniffers it recognizes the raw video bitstreams this
// project feeds to decoders, which no general-purpose sniffer identifies.
package mimer

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/aofei/mimesniffer"
)

const (
	MediaTypeH264AnnexB = "video/h264"
	MediaTypeHEVCAnnexB = "video/h265"
	MediaTypeMpegTS     = "video/mp2t"

	UnknownMediaType = "application/octet-stream"
)

// isVideoTsSignature returns true if the given buffer is a video.ts file.
// According to https://en.wikipedia.org/wiki/List_of_file_signatures,
// the hex value 0x47 should be the first byte of a video.ts file and
// repeated every 188 bytes.
func isVideoTsSignature(buffer []byte) bool {
	const (
		tsSignature         = 0x47
		tsSignatureInterval = 188
	)

	if len(buffer) < tsSignatureInterval {
		return false
	}

	for i := 0; i < len(buffer); i += tsSignatureInterval {
		if buffer[i] != tsSignature {
			return false
		}
	}

	return true
}

// annexBNALType returns the first NAL header byte of an Annex B buffer, or
// -1 if the buffer doesn't open with a start code.
func annexBNALType(buffer []byte) int {
	switch {
	case bytes.HasPrefix(buffer, []byte{0, 0, 0, 1}):
		if len(buffer) < 5 {
			return -1
		}

		return int(buffer[4])

	case bytes.HasPrefix(buffer, []byte{0, 0, 1}):
		if len(buffer) < 4 {
			return -1
		}

		return int(buffer[3])
	}

	return -1
}

// isH264AnnexBSignature returns true for a raw H.264 stream. Streams start
// with a non-VCL setup NAL: SPS (7), PPS (8), AUD (9) or SEI (6).
func isH264AnnexBSignature(buffer []byte) bool {
	b := annexBNALType(buffer)
	if b < 0 || b&0x80 != 0 { // forbidden_zero_bit
		return false
	}

	nalType := b & 0x1f

	return nalType >= 6 && nalType <= 9
}

// isHEVCAnnexBSignature returns true for a raw H.265 stream, which opens
// with a VPS (32), SPS (33), PPS (34) or AUD (35) NAL.
func isHEVCAnnexBSignature(buffer []byte) bool {
	b := annexBNALType(buffer)
	if b < 0 || b&0x80 != 0 {
		return false
	}

	nalType := (b >> 1) & 0x3f

	return nalType >= 32 && nalType <= 35
}

// init initializes the mimer package.
func init() {
	mimesniffer.Register(MediaTypeMpegTS, isVideoTsSignature)
	mimesniffer.Register(MediaTypeHEVCAnnexB, isHEVCAnnexBSignature)
	mimesniffer.Register(MediaTypeH264AnnexB, isH264AnnexBSignature)
}

// GetContentTypeFromReader returns the content type of the given resource.
func GetContentTypeFromReader(reader io.Reader) (string, error) {
	const fingerprintSize = 512

	// Only the first 512 bytes are used to sniff the content type.
	buffer := make([]byte, fingerprintSize)

	_, err := reader.Read(buffer)
	if err != nil {
		return UnknownMediaType, fmt.Errorf("mime check failed read: %w", err)
	}

	mimeType := mimesniffer.Sniff(buffer)

	return mimeType, nil
}

// GetContentType returns the content type of the given resource at the given path.
func GetContentType(sourcePath string) string {
	// Get the content type of the file.
	f, err := os.Open(sourcePath)
	if err != nil {
		return UnknownMediaType
	}

	defer func() {
		_ = f.Close()
	}()

	mimeType, _ := GetContentTypeFromReader(f)

	return mimeType
}
