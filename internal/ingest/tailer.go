// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

// Package ingest reads the sshd auth log incrementally and drives the
// parse, enrich, persist cycle on a fixed interval.
package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/bastionmap/bastionmap/internal/logging"
)

// Tailer reads new complete lines from a log file across calls, tracking a
// byte offset. The offset only advances via Commit, so a failed downstream
// write leaves the unprocessed content to be re-read on the next cycle.
type Tailer struct {
	path string

	mu     sync.Mutex
	offset int64
}

// NewTailer creates a Tailer starting at the given offset. Pass 0 to read
// the file from the beginning.
func NewTailer(path string, offset int64) *Tailer {
	return &Tailer{path: path, offset: offset}
}

// Read returns up to maxLines new complete lines past the committed offset,
// along with the offset just after the last returned line. A trailing
// partial line (no newline yet) is left for a later call. maxLines <= 0
// means unlimited.
//
// A missing file is not an error; it returns no lines. Truncation or
// rotation (file smaller than the offset) resets to the start of the file.
func (t *Tailer) Read(maxLines int) ([]string, int64, error) {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug().Str("path", t.path).Msg("auth log does not exist yet")
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("failed to open auth log: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("failed to stat auth log: %w", err)
	}

	if info.Size() < offset {
		logging.Info().
			Str("path", t.path).
			Int64("offset", offset).
			Int64("size", info.Size()).
			Msg("auth log rotated or truncated, restarting from beginning")
		offset = 0
		t.mu.Lock()
		t.offset = 0
		t.mu.Unlock()
	}

	if info.Size() == offset {
		return nil, offset, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("failed to seek auth log: %w", err)
	}

	lines, next, err := readLines(f, offset, maxLines)
	if err != nil {
		return nil, offset, fmt.Errorf("failed to read auth log: %w", err)
	}
	return lines, next, nil
}

// readLines consumes at most maxLines newline-terminated lines from r,
// starting the offset accounting at offset. Reading is buffered and stops
// once the budget is filled, so a large uncommitted backlog costs one small
// read per cycle rather than being loaded whole.
func readLines(r io.Reader, offset int64, maxLines int) ([]string, int64, error) {
	br := bufio.NewReader(r)

	var lines []string
	next := offset
	for maxLines <= 0 || len(lines) < maxLines {
		raw, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Partial line still being written; pick it up next cycle.
				return lines, next, nil
			}
			return lines, next, err
		}
		next += int64(len(raw))
		line := strings.TrimSuffix(raw, "\n")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, next, nil
}

// Commit advances the offset past content that has been fully processed.
func (t *Tailer) Commit(next int64) {
	t.mu.Lock()
	t.offset = next
	t.mu.Unlock()
}

// Offset returns the committed offset.
func (t *Tailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}
