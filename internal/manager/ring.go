// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package manager

import "sync"

// MaxConsoleLines bounds the per-instance console ring buffer.
const MaxConsoleLines = 1000

// consoleRing is a bounded FIFO of rendered console lines. The console
// monitor is the only writer; viewers joining mid-stream read a snapshot.
type consoleRing struct {
	mu    sync.RWMutex
	lines []string
	start int
	count int
	size  int
}

func newConsoleRing(size int) *consoleRing {
	if size <= 0 {
		size = MaxConsoleLines
	}
	return &consoleRing{
		lines: make([]string, size),
		size:  size,
	}
}

// Append adds a line, evicting the oldest when full.
func (r *consoleRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < r.size {
		r.lines[(r.start+r.count)%r.size] = line
		r.count++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % r.size
}

// Tail returns the most recent n lines in order, oldest first.
// n <= 0 or n > len returns everything buffered.
func (r *consoleRing) Tail(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]string, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.lines[(r.start+i)%r.size])
	}
	return out
}

// Len returns the number of buffered lines.
func (r *consoleRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
