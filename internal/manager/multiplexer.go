// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package manager

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/models"
)

// maxLineBytes caps a single console line. The Hytale server can emit
// very long stack traces; anything beyond this is split by the scanner.
const maxLineBytes = 256 * 1024

// readStream pumps one process stream into the instance output queue,
// line by line, until the stream closes with the process. A read error
// other than a closed pipe is surfaced as a synthetic error-source line
// before the reader exits. Both readers and the log tailer feed the same
// queue; the monitor is the only consumer.
func readStream(inst *instance, r io.Reader, source string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case inst.output <- outputLine{source: source, text: scanner.Text()}:
		case <-inst.deregistered():
			// Keep draining so the child never blocks on a full pipe
			// while it shuts down.
			continue
		}
	}

	err := scanner.Err()
	if err == nil || errors.Is(err, os.ErrClosed) {
		// EOF and closed-pipe errors are the normal end of life here.
		return
	}
	logging.Debug().Err(err).
		Int64("instance", inst.id).
		Str("source", source).
		Msg("console stream closed with error")

	// Surface the failure in the console itself before the reader exits.
	entry := outputLine{
		source: models.SourceError,
		text:   "Error reading " + source + ": " + err.Error(),
	}
	select {
	case inst.output <- entry:
	case <-inst.deregistered():
	}
}
