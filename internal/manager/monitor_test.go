// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package manager

import (
	"testing"
	"time"

	"github.com/006mi4/gotale/internal/models"
)

type recordingBroadcaster struct {
	types []string
	data  []interface{}
}

func (b *recordingBroadcaster) Publish(messageType string, instanceID int64, data interface{}) {
	b.types = append(b.types, messageType)
	b.data = append(b.data, data)
}

func TestHandleLineStripsControlSequences(t *testing.T) {
	bc := &recordingBroadcaster{}
	m := testManager(t)
	m.bc = bc

	inst := &instance{
		id:      1,
		console: newConsoleRing(8),
		output:  make(chan outputLine, 8),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	machine := newAuthMachine(inst.id, &monitorSink{m: m, inst: inst}, nil, time.Now())

	m.handleLine(inst, machine, outputLine{
		source: models.SourceStdout,
		text:   "\x1b[32m[Server]\x1b[0m ready\x07",
	})

	tail := inst.console.Tail(1)
	if len(tail) != 1 || tail[0] != "[Server] ready" {
		t.Fatalf("console tail = %v, want cleaned line", tail)
	}

	if len(bc.types) != 1 || bc.types[0] != models.MessageConsoleOutput {
		t.Fatalf("published types = %v", bc.types)
	}
	line, ok := bc.data[0].(models.ConsoleLine)
	if !ok {
		t.Fatalf("payload type %T", bc.data[0])
	}
	if line.Text != "[Server] ready" || line.Source != models.SourceStdout || line.InstanceID != 1 {
		t.Errorf("payload = %+v", line)
	}
}

func TestHandleLineFeedsAuthMachine(t *testing.T) {
	bc := &recordingBroadcaster{}
	m := testManager(t)
	m.bc = bc

	buf := &writeCloserBuffer{}
	inst := &instance{
		id:      2,
		stdin:   buf,
		console: newConsoleRing(8),
		output:  make(chan outputLine, 8),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	machine := newAuthMachine(inst.id, &monitorSink{m: m, inst: inst}, nil, time.Now())

	m.handleLine(inst, machine, outputLine{
		source: models.SourceStdout,
		text:   "[Auth] No credentials configured",
	})

	if got := machine.State(); got != AuthLoginRequested {
		t.Fatalf("state = %v, want %v", got, AuthLoginRequested)
	}
	if got := buf.String(); got != "/auth login device\n" {
		t.Errorf("stdin received %q", got)
	}
}

func TestMonitorSinkPromptPayload(t *testing.T) {
	bc := &recordingBroadcaster{}
	m := testManager(t)
	m.bc = bc

	inst := &instance{id: 3, done: make(chan struct{}), stop: make(chan struct{})}
	sink := &monitorSink{m: m, inst: inst}

	sink.BroadcastPrompt("https://accounts.hytale.com/device", "ABCD-1234")

	if len(bc.types) != 1 || bc.types[0] != models.MessageAuthRequired {
		t.Fatalf("published types = %v", bc.types)
	}
	prompt, ok := bc.data[0].(models.AuthPrompt)
	if !ok {
		t.Fatalf("payload type %T", bc.data[0])
	}
	if prompt.URL != "https://accounts.hytale.com/device" || prompt.Code != "ABCD-1234" || prompt.InstanceID != 3 {
		t.Errorf("payload = %+v", prompt)
	}
}

func TestAnsiEscapesPreservesPlainText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain line", "plain line"},
		{"\x1b[1;31merror\x1b[0m", "error"},
		{"\x1b]0;title\x07prompt", "prompt"},
		{"tab\tstays", "tab\tstays"},
	}
	for _, tt := range tests {
		if got := ansiEscapes.ReplaceAllString(tt.in, ""); got != tt.want {
			t.Errorf("clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
