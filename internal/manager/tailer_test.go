// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package manager

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/006mi4/gotale/internal/models"
)

func queueInstance(capacity int) *instance {
	return &instance{
		id:     1,
		output: make(chan outputLine, capacity),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

func collectOutput(inst *instance) []outputLine {
	var lines []outputLine
	for {
		select {
		case l := <-inst.output:
			lines = append(lines, l)
		default:
			return lines
		}
	}
}

func TestDrainLinesCompleteAndPartial(t *testing.T) {
	inst := queueInstance(16)
	var partial strings.Builder

	reader := bufio.NewReader(strings.NewReader("first\nsecond\r\nthird without newline"))
	consumed := drainLines(inst, reader, &partial)

	lines := collectOutput(inst)
	if len(lines) != 2 {
		t.Fatalf("emitted %d lines, want 2: %v", len(lines), lines)
	}
	if lines[0].text != "first" || lines[1].text != "second" {
		t.Errorf("lines = %v", lines)
	}
	if lines[0].source != models.SourceLogFile {
		t.Errorf("source = %q, want %q", lines[0].source, models.SourceLogFile)
	}
	if partial.String() != "third without newline" {
		t.Errorf("partial = %q", partial.String())
	}
	if consumed != int64(len("first\nsecond\r\nthird without newline")) {
		t.Errorf("consumed = %d", consumed)
	}

	// The rest of the line arriving on the next poll completes it.
	reader = bufio.NewReader(strings.NewReader(" done\n"))
	drainLines(inst, reader, &partial)

	lines = collectOutput(inst)
	if len(lines) != 1 || lines[0].text != "third without newline done" {
		t.Errorf("completed line = %v", lines)
	}
	if partial.Len() != 0 {
		t.Errorf("partial not reset: %q", partial.String())
	}
}

func TestDrainLinesDeregisteredStopsEmitting(t *testing.T) {
	inst := queueInstance(0)
	close(inst.stop)
	var partial strings.Builder

	reader := bufio.NewReader(strings.NewReader("dropped\n"))
	done := make(chan struct{})
	go func() {
		drainLines(inst, reader, &partial)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drainLines blocked after deregistration")
	}
}

func TestNewestLogFile(t *testing.T) {
	dir := t.TempDir()

	if got := newestLogFile(dir); got != "" {
		t.Fatalf("empty dir = %q, want empty", got)
	}
	if got := newestLogFile(filepath.Join(dir, "missing")); got != "" {
		t.Fatalf("missing dir = %q, want empty", got)
	}

	older := filepath.Join(dir, "server-old.log")
	newer := filepath.Join(dir, "server-new.log")
	if err := os.WriteFile(older, []byte("a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte("b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "archive"), 0o755); err != nil {
		t.Fatal(err)
	}

	if got := newestLogFile(dir); got != newer {
		t.Errorf("newestLogFile = %q, want %q", got, newer)
	}
}

// waitLines blocks until n lines arrive on the instance queue or the
// timeout lapses.
func waitLines(t *testing.T, inst *instance, n int, timeout time.Duration) []outputLine {
	t.Helper()
	deadline := time.After(timeout)
	var lines []outputLine
	for len(lines) < n {
		select {
		case l := <-inst.output:
			lines = append(lines, l)
		case <-deadline:
			t.Fatalf("got %d of %d expected lines: %v", len(lines), n, lines)
		}
	}
	return lines
}

func TestTailLogsOversizedFileSkipNotice(t *testing.T) {
	m := testManager(t)
	if err := EnsureInstanceDir(m.cfg.Paths.DataDir, 1); err != nil {
		t.Fatal(err)
	}
	logPath := filepath.Join(LogsDir(m.cfg.Paths.DataDir, 1), "latest.log")
	history := strings.Repeat("old history line\n", 22*1024)
	if err := os.WriteFile(logPath, []byte(history), 0o644); err != nil {
		t.Fatal(err)
	}

	inst := queueInstance(64)
	go m.tailLogs(inst)
	defer close(inst.stop)

	lines := waitLines(t, inst, 1, 2*time.Second)
	if lines[0].source != models.SourceLogFile {
		t.Errorf("source = %q, want %q", lines[0].source, models.SourceLogFile)
	}
	want := fmt.Sprintf("Skipped %d bytes of existing log history", len(history))
	if lines[0].text != want {
		t.Errorf("notice = %q, want %q", lines[0].text, want)
	}

	// Appends after attach are emitted; history stays skipped.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("fresh line\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	lines = waitLines(t, inst, 1, 2*time.Second)
	if lines[0].text != "fresh line" {
		t.Errorf("line = %q, want only the appended line", lines[0].text)
	}
}

func TestTailLogsRotationEmitsOnlyNewLines(t *testing.T) {
	m := testManager(t)
	if err := EnsureInstanceDir(m.cfg.Paths.DataDir, 1); err != nil {
		t.Fatal(err)
	}
	dir := LogsDir(m.cfg.Paths.DataDir, 1)
	first := filepath.Join(dir, "server-2026-01-01.log")
	if err := os.WriteFile(first, []byte("a1\na2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Minute)
	if err := os.Chtimes(first, past, past); err != nil {
		t.Fatal(err)
	}

	inst := queueInstance(64)
	go m.tailLogs(inst)
	defer close(inst.stop)

	lines := waitLines(t, inst, 2, 2*time.Second)
	if lines[0].text != "a1" || lines[1].text != "a2" {
		t.Fatalf("initial lines = %v", lines)
	}

	// A newer file takes over; its content arrives without the old file
	// being replayed.
	second := filepath.Join(dir, "server-2026-01-02.log")
	if err := os.WriteFile(second, []byte("b1\nb2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	lines = waitLines(t, inst, 2, 2*time.Second)
	if lines[0].text != "b1" || lines[1].text != "b2" {
		t.Errorf("post-rotation lines = %v", lines)
	}

	time.Sleep(500 * time.Millisecond)
	if extra := collectOutput(inst); len(extra) != 0 {
		t.Errorf("unexpected replayed lines: %v", extra)
	}
}

func TestReadStreamPumpsLines(t *testing.T) {
	inst := queueInstance(16)

	readStream(inst, strings.NewReader("one\ntwo\n"), models.SourceStdout)

	lines := collectOutput(inst)
	if len(lines) != 2 {
		t.Fatalf("emitted %d lines, want 2", len(lines))
	}
	if lines[0].text != "one" || lines[1].text != "two" {
		t.Errorf("lines = %v", lines)
	}
	if lines[0].source != models.SourceStdout {
		t.Errorf("source = %q", lines[0].source)
	}
}

type failingReader struct {
	err error
}

func (r failingReader) Read(p []byte) (int, error) { return 0, r.err }

func TestReadStreamEmitsSyntheticErrorEntry(t *testing.T) {
	inst := queueInstance(4)

	readStream(inst, failingReader{err: errors.New("input/output error")}, models.SourceStdout)

	lines := collectOutput(inst)
	if len(lines) != 1 {
		t.Fatalf("emitted %d lines, want 1 synthetic entry: %v", len(lines), lines)
	}
	if lines[0].source != models.SourceError {
		t.Errorf("source = %q, want %q", lines[0].source, models.SourceError)
	}
	if lines[0].text != "Error reading stdout: input/output error" {
		t.Errorf("text = %q", lines[0].text)
	}
}

func TestReadStreamClosedPipeStaysSilent(t *testing.T) {
	inst := queueInstance(4)

	readStream(inst, failingReader{err: os.ErrClosed}, models.SourceStderr)

	if lines := collectOutput(inst); len(lines) != 0 {
		t.Errorf("closed pipe produced entries: %v", lines)
	}
}

func TestReadStreamDrainsAfterDeregistration(t *testing.T) {
	inst := queueInstance(0)
	close(inst.stop)

	done := make(chan struct{})
	go func() {
		readStream(inst, strings.NewReader("a\nb\nc\n"), models.SourceStderr)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readStream blocked on full queue after deregistration")
	}
}
