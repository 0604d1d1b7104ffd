// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ManuGH/deckfs/internal/log"
	"github.com/rs/zerolog"
)

// Draw stream framing:
//
//	DECKFS_IMG_START\n
//	<decimal byte length>\n
//	<payload>
//	DECKFS_IMG_END\n
const (
	StartMarker = "DECKFS_IMG_START"
	EndMarker   = "DECKFS_IMG_END"

	// MaxFrameSize rejects absurd length lines before allocating.
	MaxFrameSize = 16 << 20
)

// ErrFrameTooLarge is reported for a length line above MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ContainsMarker reports whether chunk announces a continuous draw stream.
func ContainsMarker(chunk []byte) bool {
	return bytes.Contains(chunk, []byte(StartMarker))
}

// FrameReader extracts framed images from a draw script's stdout.
// Anything between frames is skipped; a frame with a bad length or a missing
// end marker is dropped and scanning resumes at the next start marker.
type FrameReader struct {
	r      *bufio.Reader
	logger zerolog.Logger

	// pendingStart is set when the line that should have been an end marker
	// was already the next start marker.
	pendingStart bool
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:      bufio.NewReaderSize(r, 64<<10),
		logger: log.WithComponent("frames"),
	}
}

// Next returns the payload of the next complete frame. It returns io.EOF
// once the stream ends, including in the middle of a frame.
func (fr *FrameReader) Next() ([]byte, error) {
	for {
		if !fr.pendingStart {
			line, err := fr.readLine()
			if err != nil {
				return nil, err
			}
			if line != StartMarker {
				continue
			}
		}
		fr.pendingStart = false

		lenLine, err := fr.readLine()
		if err != nil {
			return nil, err
		}
		if lenLine == StartMarker {
			fr.pendingStart = true
			continue
		}
		size, err := parseFrameSize(lenLine)
		if err != nil {
			fr.logger.Warn().Err(err).Str("line", truncate(lenLine, 64)).Msg("invalid frame length, resyncing")
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, err
		}

		end, err := fr.readLine()
		if err != nil {
			return nil, err
		}
		switch end {
		case EndMarker:
			return payload, nil
		case StartMarker:
			fr.pendingStart = true
		}
		fr.logger.Warn().Int("size", size).Msg("frame missing end marker, dropped")
	}
}

func parseFrameSize(line string) (int, error) {
	n, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("parse frame length: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative frame length %d", n)
	}
	if n > MaxFrameSize {
		return 0, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	return n, nil
}

// readLine returns the next line without its terminator. Lines longer than
// the buffer are binary noise and are skipped whole.
func (fr *FrameReader) readLine() (string, error) {
	overlong := false
	for {
		line, err := fr.r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			overlong = true
			continue
		}
		if err != nil {
			return "", err
		}
		if overlong {
			overlong = false
			continue
		}
		return strings.TrimRight(string(line), "\r\n"), nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
