// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ManuGH/deckfs/internal/log"
	"github.com/ManuGH/deckfs/internal/procgroup"
)

// FrameFunc receives each frame of a continuous draw stream, on the reader goroutine.
type FrameFunc func(frame []byte)

// DrawResult is the outcome of RunDraw.
type DrawResult struct {
	// Continuous is set when the script announced a frame stream; it keeps
	// running under supervision and frames arrive through the FrameFunc.
	Continuous bool
	// Data is the complete stdout of a one-shot script.
	Data []byte
}

// RunDraw runs the draw script and decides from its first output whether it
// is a one-shot generator or a continuous stream. A continuous script is
// adopted as the tracked draw process without being launched a second time.
func (s *Supervisor) RunDraw(onFrame FrameFunc) (DrawResult, error) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	script, err := s.Resolve(Draw)
	if err != nil {
		return DrawResult{}, err
	}
	s.Stop(Draw)

	p, err := s.launch(Draw, script, true)
	if err != nil {
		return DrawResult{}, err
	}

	var timedOut atomic.Bool
	killer := time.AfterFunc(s.syncTimeout, func() {
		timedOut.Store(true)
		_ = procgroup.Kill(p.cmd, syscall.SIGKILL)
	})

	chunk, readErr := readProbe(p.stdout)
	if ContainsMarker(chunk) && killer.Stop() {
		if !s.register(p, gen) {
			s.terminate(p)
			return DrawResult{}, fmt.Errorf("draw: %w", ErrStopped)
		}
		s.logger.Info().Str(log.FieldEvent, "draw.continuous").Msg("draw script streams frames")
		go s.pumpFrames(p, io.MultiReader(bytes.NewReader(chunk), p.stdout), onFrame)
		return DrawResult{Continuous: true}, nil
	}

	var rest []byte
	if readErr == nil {
		// One byte past the limit tells an oversized image from an exact fit.
		rest, readErr = io.ReadAll(io.LimitReader(p.stdout, int64(MaxFrameSize-len(chunk)+1)))
	}
	if len(chunk)+len(rest) > MaxFrameSize {
		// The script would block on a full pipe; do not wait for the timeout.
		killer.Stop()
		s.terminate(p)
		s.logger.Error().Int("limit", MaxFrameSize).Msg("draw output too large, process group killed")
		return DrawResult{}, fmt.Errorf("draw output: %w", ErrFrameTooLarge)
	}
	<-p.done
	killer.Stop()
	_ = p.stdout.Close()

	if timedOut.Load() {
		s.logger.Error().Dur("timeout", s.syncTimeout).Msg("draw script timed out, process group killed")
		return DrawResult{}, fmt.Errorf("draw: %w", ErrTimeout)
	}
	if p.exitCode != 0 {
		return DrawResult{}, &ExitError{Role: Draw, Code: p.exitCode}
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return DrawResult{}, fmt.Errorf("read draw output: %w", readErr)
	}
	return DrawResult{Data: append(chunk, rest...)}, nil
}

// StartDraw launches the draw script directly in streaming mode.
func (s *Supervisor) StartDraw(onFrame FrameFunc) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	script, err := s.Resolve(Draw)
	if err != nil {
		return err
	}
	s.Stop(Draw)

	p, err := s.launch(Draw, script, true)
	if err != nil {
		return err
	}
	if !s.register(p, gen) {
		s.terminate(p)
		return fmt.Errorf("draw: %w", ErrStopped)
	}
	go s.pumpFrames(p, p.stdout, onFrame)
	return nil
}

func (s *Supervisor) pumpFrames(p *process, r io.Reader, onFrame FrameFunc) {
	fr := NewFrameReader(r)
	frames := 0
	for {
		frame, err := fr.Next()
		if err != nil {
			s.logger.Debug().Err(err).Int("frames", frames).Msg("draw stream ended")
			return
		}
		frames++
		if onFrame != nil {
			onFrame(frame)
		}
	}
}

// readProbe reads the first output chunk, continuing while it is shorter
// than the start marker so a split write cannot hide it.
func readProbe(r io.Reader) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			return buf, err
		}
		if len(buf) >= len(StartMarker) {
			return buf, nil
		}
	}
}
