// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package manager

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/models"
)

const (
	// tailPollInterval bounds how stale file-backed console output can be.
	tailPollInterval = 200 * time.Millisecond

	// tailCatchUpLimit is the size above which a newly opened log file is
	// read from the end instead of the beginning, so attaching to a
	// long-running server does not replay its whole history.
	tailCatchUpLimit = 256 * 1024
)

// tailLogs follows the newest file under the instance logs directory and
// feeds complete lines into the output queue tagged as logfile output.
// Rotation is detected by name change or truncation; a missing logs
// directory is not an error, servers create it late. Attaching to a file
// already past the catch-up limit seeks to the end and reports the
// skipped history as a single synthetic line.
func (m *Manager) tailLogs(inst *instance) {
	logsDir := LogsDir(m.cfg.Paths.DataDir, inst.id)

	var (
		file    *os.File
		reader  *bufio.Reader
		path    string
		offset  int64
		partial strings.Builder
	)
	closeCurrent := func() {
		if file != nil {
			file.Close()
			file = nil
			reader = nil
			partial.Reset()
		}
	}
	defer closeCurrent()

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-inst.deregistered():
			return
		case <-ticker.C:
		}

		newest := newestLogFile(logsDir)
		if newest == "" {
			closeCurrent()
			path = ""
			continue
		}

		if file != nil && path == newest {
			// Truncation means the file was rotated in place.
			if info, err := os.Stat(path); err != nil || info.Size() < offset {
				closeCurrent()
			}
		}
		if file == nil || path != newest {
			closeCurrent()
			f, err := os.Open(newest)
			if err != nil {
				logging.Debug().Err(err).Int64("instance", inst.id).Msg("log file open failed")
				continue
			}
			offset = 0
			if info, err := f.Stat(); err == nil && info.Size() > tailCatchUpLimit {
				if pos, err := f.Seek(0, io.SeekEnd); err == nil {
					offset = pos
					notice := outputLine{
						source: models.SourceLogFile,
						text:   fmt.Sprintf("Skipped %d bytes of existing log history", pos),
					}
					select {
					case inst.output <- notice:
					case <-inst.deregistered():
						f.Close()
						return
					}
				}
			}
			file = f
			path = newest
			reader = bufio.NewReader(f)
		}

		offset += drainLines(inst, reader, &partial)
	}
}

// drainLines reads everything currently available, emitting complete
// lines and holding any trailing partial line until its newline arrives.
// Returns the number of bytes consumed.
func drainLines(inst *instance, reader *bufio.Reader, partial *strings.Builder) int64 {
	var consumed int64
	for {
		chunk, err := reader.ReadString('\n')
		consumed += int64(len(chunk))
		if err != nil {
			// Not a full line yet; keep it for the next poll.
			partial.WriteString(chunk)
			return consumed
		}
		line := partial.String() + strings.TrimRight(chunk, "\r\n")
		partial.Reset()
		select {
		case inst.output <- outputLine{source: models.SourceLogFile, text: line}:
		case <-inst.deregistered():
			return consumed
		}
	}
}

// newestLogFile returns the most recently modified regular file in dir,
// or "" when none exists.
func newestLogFile(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	type candidate struct {
		path string
		mod  time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{path: filepath.Join(dir, e.Name()), mod: info.ModTime()})
	}
	if len(files) == 0 {
		return ""
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	return files[0].path
}
