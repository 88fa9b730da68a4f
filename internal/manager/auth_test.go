// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package manager

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/006mi4/gotale/internal/logging"
)

// recordingSink captures the machine's side effects.
type recordingSink struct {
	commands  []string
	prompts   [][2]string
	successes int
	marked    int
	verified  int
	artifact  bool
}

func (s *recordingSink) SendAuthCommand(text string) { s.commands = append(s.commands, text) }

func (s *recordingSink) BroadcastPrompt(url, code string) {
	s.prompts = append(s.prompts, [2]string{url, code})
}

func (s *recordingSink) BroadcastSuccess() { s.successes++ }

func (s *recordingSink) MarkAuthenticated() { s.marked++ }
func (s *recordingSink) VerifyPersistence() bool {
	s.verified++
	return s.artifact
}

// testMachine builds a machine with a controllable clock. The returned
// advance function moves the clock forward.
func testMachine(sink *recordingSink, modes []string) (*authMachine, func(time.Duration)) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newAuthMachine(1, sink, modes, now)
	m.now = func() time.Time { return now }
	advance := func(d time.Duration) { now = now.Add(d) }
	return m, advance
}

func TestAuthMachineFullLoginSequence(t *testing.T) {
	sink := &recordingSink{artifact: true}
	m, advance := testMachine(sink, []string{"encrypted"})
	m.statusSent = true // the startup status query has its own test

	if got := m.State(); got != AuthUnauthenticated {
		t.Fatalf("initial state = %v, want %v", got, AuthUnauthenticated)
	}

	m.ProcessLine("[Server] No credentials configured for this server")
	if got := m.State(); got != AuthLoginRequested {
		t.Fatalf("state after trigger = %v, want %v", got, AuthLoginRequested)
	}
	if len(sink.commands) != 1 || sink.commands[0] != "/auth login device" {
		t.Fatalf("commands = %v, want one login command", sink.commands)
	}

	m.ProcessLine("Visit: https://accounts.hytale.com/device")
	m.ProcessLine("Enter code: ABCD-1234")
	if got := m.State(); got != AuthCodePending {
		t.Fatalf("state after prompt = %v, want %v", got, AuthCodePending)
	}

	m.ProcessLine("[Server] Authentication successful")
	if got := m.State(); got != AuthAuthenticating {
		t.Fatalf("state after success = %v, want %v", got, AuthAuthenticating)
	}
	if sink.successes != 1 {
		t.Errorf("success broadcasts = %d, want 1", sink.successes)
	}

	// The persistence command fires 1s after success.
	advance(2 * time.Second)
	m.Tick()
	if got := m.State(); got != AuthPersistenceRequested {
		t.Fatalf("state after persistence tick = %v, want %v", got, AuthPersistenceRequested)
	}

	m.ProcessLine("[Server] Persistence enabled for credentials")
	if got := m.State(); got != AuthPersistenceVerifying {
		t.Fatalf("state after ack = %v, want %v", got, AuthPersistenceVerifying)
	}
	if sink.marked != 1 {
		t.Errorf("MarkAuthenticated calls = %d, want 1", sink.marked)
	}

	// Verification fires 3s later.
	advance(4 * time.Second)
	m.Tick()
	if got := m.State(); got != AuthAuthenticated {
		t.Fatalf("final state = %v, want %v", got, AuthAuthenticated)
	}
	if sink.verified != 1 {
		t.Errorf("VerifyPersistence calls = %d, want 1", sink.verified)
	}

	wantCommands := []string{"/auth login device", "/auth persistence encrypted"}
	if len(sink.commands) != len(wantCommands) {
		t.Fatalf("commands = %v, want %v", sink.commands, wantCommands)
	}
	for i := range wantCommands {
		if sink.commands[i] != wantCommands[i] {
			t.Errorf("commands[%d] = %q, want %q", i, sink.commands[i], wantCommands[i])
		}
	}
}

func TestAuthMachineLoginCooldown(t *testing.T) {
	sink := &recordingSink{}
	m, advance := testMachine(sink, nil)

	m.ProcessLine("credentials not found")
	m.state = AuthUnauthenticated // simulate no progress
	m.ProcessLine("credentials not found")
	if len(sink.commands) != 1 {
		t.Fatalf("commands within cooldown = %v, want exactly one login", sink.commands)
	}

	advance(21 * time.Second)
	m.state = AuthUnauthenticated
	m.ProcessLine("credentials not found")
	if len(sink.commands) != 2 {
		t.Fatalf("commands after cooldown = %v, want two logins", sink.commands)
	}
}

func TestAuthMachinePromptDeduplication(t *testing.T) {
	sink := &recordingSink{}
	m, _ := testMachine(sink, nil)

	m.ProcessLine("Visit: https://accounts.hytale.com/device")
	m.ProcessLine("Enter code: ABCD-1234")
	m.ProcessLine("Visit: https://accounts.hytale.com/device")
	m.ProcessLine("Enter code: ABCD-1234")

	if len(sink.prompts) != 2 {
		t.Fatalf("prompts = %v, want 2 (URL-only then URL+code)", sink.prompts)
	}
	if sink.prompts[0] != [2]string{"https://accounts.hytale.com/device", "See URL"} {
		t.Errorf("first prompt = %v", sink.prompts[0])
	}
	if sink.prompts[1] != [2]string{"https://accounts.hytale.com/device", "ABCD-1234"} {
		t.Errorf("second prompt = %v", sink.prompts[1])
	}
}

func TestAuthMachineEmbeddedUserCode(t *testing.T) {
	sink := &recordingSink{}
	m, _ := testMachine(sink, nil)

	m.ProcessLine("open https://oauth.accounts.hytale.com/oauth2/device/verify?user_code=WXYZ-9876 to continue")

	if len(sink.prompts) != 1 {
		t.Fatalf("prompts = %v, want 1", sink.prompts)
	}
	if sink.prompts[0][1] != "WXYZ-9876" {
		t.Errorf("code = %q, want WXYZ-9876", sink.prompts[0][1])
	}
}

func TestAuthMachinePersistenceCandidateWalk(t *testing.T) {
	sink := &recordingSink{}
	m, advance := testMachine(sink, []string{"encrypted", "plaintext"})
	m.statusSent = true

	m.ProcessLine("Authentication successful")
	advance(2 * time.Second)
	m.Tick()

	m.ProcessLine("Unknown persistence mode: encrypted")
	if len(sink.commands) != 2 || sink.commands[1] != "/auth persistence plaintext" {
		t.Fatalf("commands = %v, want retry with next candidate", sink.commands)
	}

	// Exhausting the list stops the automation without a state change.
	m.ProcessLine("Unknown persistence mode: plaintext")
	if len(sink.commands) != 2 {
		t.Fatalf("commands after exhaustion = %v, want no further attempts", sink.commands)
	}
	if !m.exhausted {
		t.Error("machine should be flagged exhausted")
	}
	if got := m.State(); got == AuthAuthenticated {
		t.Errorf("state = %v, exhaustion must not authenticate", got)
	}
}

func TestAuthMachineExhaustionLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf))
	defer logging.SetLogger(prev)

	sink := &recordingSink{}
	m, advance := testMachine(sink, []string{"encrypted"})
	m.statusSent = true

	m.ProcessLine("Authentication successful")
	advance(2 * time.Second)
	m.Tick()
	m.ProcessLine("Unknown persistence mode: encrypted")

	if !m.exhausted {
		t.Fatal("machine should be flagged exhausted")
	}
	logged := buf.String()
	if !strings.Contains(logged, "persistence") || !strings.Contains(logged, `"level":"warn"`) {
		t.Errorf("exhaustion warning missing from log output: %q", logged)
	}

	// A later rejection does not repeat the warning.
	buf.Reset()
	m.ProcessLine("Unknown persistence mode: encrypted")
	if buf.Len() != 0 {
		t.Errorf("repeated exhaustion logged again: %q", buf.String())
	}
}

func TestAuthMachineStatusShortCircuit(t *testing.T) {
	sink := &recordingSink{artifact: false}
	m, advance := testMachine(sink, nil)

	m.ProcessLine("Auth mode: authenticated (session active)")
	if got := m.State(); got != AuthPersistenceVerifying {
		t.Fatalf("state = %v, want %v", got, AuthPersistenceVerifying)
	}
	if sink.marked != 1 {
		t.Errorf("MarkAuthenticated calls = %d, want 1", sink.marked)
	}

	advance(4 * time.Second)
	m.Tick()
	if got := m.State(); got != AuthAuthenticated {
		t.Fatalf("state = %v, want %v", got, AuthAuthenticated)
	}
	// No artifact on disk: verification ran but found nothing.
	if sink.verified != 1 {
		t.Errorf("VerifyPersistence calls = %d, want 1", sink.verified)
	}
}

func TestAuthMachineInitialStatusCommandOnce(t *testing.T) {
	sink := &recordingSink{}
	m, advance := testMachine(sink, nil)

	m.Tick()
	if len(sink.commands) != 0 {
		t.Fatalf("commands before delay = %v, want none", sink.commands)
	}

	advance(3 * time.Second)
	m.Tick()
	m.Tick()
	if len(sink.commands) != 1 || sink.commands[0] != "/auth status" {
		t.Fatalf("commands = %v, want exactly one status query", sink.commands)
	}
}

func TestAuthStateString(t *testing.T) {
	tests := []struct {
		state AuthState
		want  string
	}{
		{AuthUnauthenticated, "unauthenticated"},
		{AuthLoginRequested, "login_requested"},
		{AuthCodePending, "code_pending"},
		{AuthAuthenticating, "authenticating"},
		{AuthPersistenceRequested, "persistence_requested"},
		{AuthPersistenceVerifying, "persistence_verifying"},
		{AuthAuthenticated, "authenticated"},
		{AuthState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("AuthState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
