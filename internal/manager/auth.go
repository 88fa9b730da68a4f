// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package manager

import (
	"regexp"
	"strings"
	"time"

	"github.com/006mi4/gotale/internal/logging"
)

// AuthState is the device-code login progress of one instance. Only the
// console monitor goroutine for that instance mutates it.
type AuthState int32

const (
	AuthUnauthenticated AuthState = iota
	AuthLoginRequested
	AuthCodePending
	AuthAuthenticating
	AuthPersistenceRequested
	AuthPersistenceVerifying
	AuthAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case AuthUnauthenticated:
		return "unauthenticated"
	case AuthLoginRequested:
		return "login_requested"
	case AuthCodePending:
		return "code_pending"
	case AuthAuthenticating:
		return "authenticating"
	case AuthPersistenceRequested:
		return "persistence_requested"
	case AuthPersistenceVerifying:
		return "persistence_verifying"
	case AuthAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Console commands issued by the automation.
const (
	authLoginCommand      = "/auth login device"
	authStatusCommand     = "/auth status"
	authPersistencePrefix = "/auth persistence "
	authLoginCooldown     = 20 * time.Second
	initialStatusDelay    = 2 * time.Second
	persistenceDelay      = 1 * time.Second
	verificationDelay     = 3 * time.Second
)

// Output patterns of the Hytale server's device-code flow.
var (
	authURLPattern     = regexp.MustCompile(`Visit:\s*(https://accounts\.hytale\.com/device\S*)`)
	authVerifyPattern  = regexp.MustCompile(`(https://oauth\.accounts\.hytale\.com/oauth2/device/verify\?user_code=\S+)`)
	authCodePattern    = regexp.MustCompile(`Enter code:\s*([A-Z0-9-]+)`)
	authGrantPattern   = regexp.MustCompile(`Authorization code:\s*([A-Za-z0-9]+)`)
	userCodeQueryParam = regexp.MustCompile(`[?&]user_code=([A-Za-z0-9-]+)`)
)

// Phrase sets matched case-insensitively against whole lines.
var (
	authMissingPhrases = []string{
		"no credentials configured",
		"credentials not found",
		"not authenticated",
		"authentication required",
	}
	authSuccessPhrases = []string{
		"authentication successful",
		"authenticated successfully",
		"login successful",
	}
	authStatusOKPhrases = []string{
		"auth mode: authenticated",
		"authenticated as",
		"session: authenticated",
	}
	persistenceUnknownPhrases = []string{
		"unknown persistence mode",
		"unrecognized persistence",
		"invalid persistence mode",
	}
	persistenceAckPhrases = []string{
		"persistence enabled",
		"persistence mode set",
		"persistence configured",
		"credentials saved",
		"credentials stored",
	}
)

// authSink receives the side effects of the state machine. The console
// monitor is the production implementation; tests substitute a recorder.
type authSink interface {
	SendAuthCommand(text string)
	BroadcastPrompt(url, code string)
	BroadcastSuccess()

	// MarkAuthenticated records that the server claims an authenticated
	// session; durability is not yet known.
	MarkAuthenticated()

	// VerifyPersistence checks the filesystem for a persisted credential
	// artifact and records it when found. Reports whether one was found.
	VerifyPersistence() bool
}

// authMachine drives the device-code login from console text alone. All
// methods are called from the single monitor goroutine; the machine is
// not safe for concurrent use.
type authMachine struct {
	id   int64
	sink authSink
	now  func() time.Time

	state AuthState

	// Pending URL+code pair and the last broadcast payload for de-dup.
	pendingURL  string
	pendingCode string
	lastPayload string

	lastLoginRequest time.Time

	// Candidate persistence modes and the cursor into them.
	persistenceModes []string
	persistenceIndex int
	exhausted        bool

	// Deferred actions fired by tick.
	persistenceDue  time.Time
	verificationDue time.Time
	statusDue       time.Time
	statusSent      bool
}

func newAuthMachine(id int64, sink authSink, modes []string, started time.Time) *authMachine {
	m := &authMachine{
		id:               id,
		sink:             sink,
		now:              time.Now,
		state:            AuthUnauthenticated,
		persistenceModes: modes,
		statusDue:        started.Add(initialStatusDelay),
	}
	if len(m.persistenceModes) == 0 {
		m.persistenceModes = []string{"encrypted"}
	}
	return m
}

// setAuthenticated seeds the machine for an instance whose credentials
// were already found on disk at start.
func (m *authMachine) setAuthenticated() {
	m.state = AuthAuthenticated
	m.statusSent = true
	m.statusDue = time.Time{}
}

// ProcessLine runs the pattern set against one cleaned console line and
// applies at most one transition. Unmatched lines leave the state alone.
func (m *authMachine) ProcessLine(line string) {
	lower := strings.ToLower(line)

	switch {
	case m.matchURL(line):
	case m.matchCode(line):
	case m.state != AuthAuthenticated && containsAny(lower, authSuccessPhrases):
		m.onLoginSuccess()
	case containsAny(lower, authStatusOKPhrases):
		m.onStatusAuthenticated()
	case m.state == AuthPersistenceRequested && containsAny(lower, persistenceUnknownPhrases):
		m.onPersistenceRejected()
	case m.state == AuthPersistenceRequested && containsAny(lower, persistenceAckPhrases):
		m.onPersistenceAccepted()
	case m.state == AuthUnauthenticated && containsAny(lower, authMissingPhrases):
		m.onCredentialsMissing()
	}
}

// Tick fires any scheduled action whose time has come. Called on every
// monitor poll, including timed-out polls with no line.
func (m *authMachine) Tick() {
	now := m.now()

	if !m.statusSent && !m.statusDue.IsZero() && now.After(m.statusDue) {
		m.statusSent = true
		m.sink.SendAuthCommand(authStatusCommand)
	}
	if !m.persistenceDue.IsZero() && now.After(m.persistenceDue) {
		m.persistenceDue = time.Time{}
		m.issuePersistence()
	}
	if !m.verificationDue.IsZero() && now.After(m.verificationDue) {
		m.verificationDue = time.Time{}
		m.sink.VerifyPersistence()
		if m.state == AuthPersistenceVerifying {
			m.state = AuthAuthenticated
		}
	}
}

// State returns the current state for status queries and tests.
func (m *authMachine) State() AuthState { return m.state }

func (m *authMachine) matchURL(line string) bool {
	var url string
	if match := authVerifyPattern.FindStringSubmatch(line); match != nil {
		url = match[1]
	} else if match := authURLPattern.FindStringSubmatch(line); match != nil {
		url = match[1]
	} else {
		return false
	}

	m.pendingURL = url
	// A user_code baked into the URL doubles as the code.
	if m.pendingCode == "" {
		if match := userCodeQueryParam.FindStringSubmatch(url); match != nil {
			m.pendingCode = match[1]
		}
	}
	m.toCodePending()
	return true
}

func (m *authMachine) matchCode(line string) bool {
	var code string
	if match := authCodePattern.FindStringSubmatch(line); match != nil {
		code = match[1]
	} else if match := authGrantPattern.FindStringSubmatch(line); match != nil {
		code = match[1]
	} else {
		return false
	}

	m.pendingCode = code
	if m.pendingURL != "" {
		m.toCodePending()
	}
	return true
}

// toCodePending broadcasts the URL+code pair, suppressing repeats of an
// identical payload.
func (m *authMachine) toCodePending() {
	if m.pendingURL == "" {
		return
	}
	m.state = AuthCodePending

	payload := m.pendingURL + "\x00" + m.pendingCode
	if payload == m.lastPayload {
		return
	}
	m.lastPayload = payload

	code := m.pendingCode
	if code == "" {
		code = "See URL"
	}
	m.sink.BroadcastPrompt(m.pendingURL, code)
}

func (m *authMachine) onCredentialsMissing() {
	now := m.now()
	if now.Sub(m.lastLoginRequest) < authLoginCooldown {
		return
	}
	m.lastLoginRequest = now
	m.state = AuthLoginRequested
	m.sink.SendAuthCommand(authLoginCommand)
}

func (m *authMachine) onLoginSuccess() {
	if m.state != AuthCodePending && m.state != AuthLoginRequested && m.state != AuthUnauthenticated {
		return
	}
	m.state = AuthAuthenticating
	m.pendingURL = ""
	m.pendingCode = ""
	m.sink.BroadcastSuccess()
	m.persistenceDue = m.now().Add(persistenceDelay)
}

func (m *authMachine) issuePersistence() {
	if m.exhausted || m.persistenceIndex >= len(m.persistenceModes) {
		m.markExhausted()
		return
	}
	m.state = AuthPersistenceRequested
	m.sink.SendAuthCommand(authPersistencePrefix + m.persistenceModes[m.persistenceIndex])
}

func (m *authMachine) onPersistenceRejected() {
	m.persistenceIndex++
	if m.persistenceIndex >= len(m.persistenceModes) {
		m.markExhausted()
		return
	}
	m.issuePersistence()
}

// markExhausted flags the candidate list as spent and warns once so an
// operator can see why the automation stopped issuing commands.
func (m *authMachine) markExhausted() {
	if m.exhausted {
		return
	}
	m.exhausted = true
	logging.Warn().
		Int64("instance", m.id).
		Strs("candidates", m.persistenceModes).
		Msg("every persistence mode was rejected, credentials will not be saved")
}

func (m *authMachine) onPersistenceAccepted() {
	m.becomeAuthenticated()
}

func (m *authMachine) onStatusAuthenticated() {
	// A status response claiming an authenticated session short-circuits
	// the whole login sequence.
	m.becomeAuthenticated()
}

func (m *authMachine) becomeAuthenticated() {
	if m.state == AuthAuthenticated || m.state == AuthPersistenceVerifying {
		return
	}
	m.state = AuthPersistenceVerifying
	m.pendingURL = ""
	m.pendingCode = ""
	m.sink.MarkAuthenticated()
	m.verificationDue = m.now().Add(verificationDelay)
}

func containsAny(line string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}
