// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package manager

import (
	"regexp"
	"time"

	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/metrics"
	"github.com/006mi4/gotale/internal/models"
)

// monitorPollInterval bounds a single queue wait so scheduled actions
// still fire when the server is quiet.
const monitorPollInterval = 100 * time.Millisecond

// ansiEscapes matches CSI sequences and stray terminal control bytes.
var ansiEscapes = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]|\x1b\][^\x07]*\x07|[\x00-\x08\x0b\x0c\x0e-\x1f]`)

// runMonitor is the single consumer of an instance's output queue. It
// owns the console ring and the auth state machine; nothing else touches
// either.
func (m *Manager) runMonitor(inst *instance) {
	sink := &monitorSink{m: m, inst: inst}
	machine := newAuthMachine(inst.id, sink, m.cfg.Runtime.PersistenceModes, inst.startedAt)
	if m.findCredentialArtifact(inst.id) != "" {
		machine.setAuthenticated()
	}
	inst.authState.Store(int32(machine.State()))

	timer := time.NewTimer(monitorPollInterval)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(monitorPollInterval)

		select {
		case <-inst.deregistered():
			return
		case line := <-inst.output:
			m.handleLine(inst, machine, line)
		case <-timer.C:
			// No output this poll; scheduled actions still run below.
		}

		machine.Tick()
		inst.authState.Store(int32(machine.State()))
	}
}

func (m *Manager) handleLine(inst *instance, machine *authMachine, line outputLine) {
	text := ansiEscapes.ReplaceAllString(line.text, "")

	inst.console.Append(text)
	metrics.ConsoleLines.WithLabelValues(line.source).Inc()

	m.bc.Publish(models.MessageConsoleOutput, inst.id, models.ConsoleLine{
		InstanceID: inst.id,
		Source:     line.source,
		Text:       text,
	})

	machine.ProcessLine(text)
}

// monitorSink wires authMachine side effects to the command channel, the
// broadcaster, and the record keeper.
type monitorSink struct {
	m    *Manager
	inst *instance
}

func (s *monitorSink) SendAuthCommand(text string) {
	if err := s.m.sendCommand(s.inst, text, "auth"); err != nil {
		logging.Warn().Err(err).Int64("instance", s.inst.id).Str("command", text).
			Msg("automatic auth command failed")
		return
	}
	logging.Info().Int64("instance", s.inst.id).Str("command", text).Msg("issued auth command")
}

func (s *monitorSink) BroadcastPrompt(url, code string) {
	metrics.AuthTransitions.WithLabelValues(AuthCodePending.String()).Inc()
	s.m.bc.Publish(models.MessageAuthRequired, s.inst.id, models.AuthPrompt{
		InstanceID: s.inst.id,
		URL:        url,
		Code:       code,
	})
}

func (s *monitorSink) BroadcastSuccess() {
	metrics.AuthTransitions.WithLabelValues(AuthAuthenticating.String()).Inc()
	s.m.bc.Publish(models.MessageAuthSuccess, s.inst.id, map[string]int64{"server_id": s.inst.id})
}

func (s *monitorSink) MarkAuthenticated() {
	metrics.AuthTransitions.WithLabelValues(AuthAuthenticated.String()).Inc()
	if err := s.m.rk.MarkAuthenticated(s.inst.id, "", false); err != nil {
		logging.Warn().Err(err).Int64("instance", s.inst.id).Msg("failed to record authentication")
	}
}

func (s *monitorSink) VerifyPersistence() bool {
	path := s.m.findCredentialArtifact(s.inst.id)
	if path == "" {
		logging.Debug().Int64("instance", s.inst.id).Msg("no credential artifact found yet")
		return false
	}
	if err := s.m.rk.MarkAuthenticated(s.inst.id, path, true); err != nil {
		logging.Warn().Err(err).Int64("instance", s.inst.id).Msg("failed to record verified credentials")
	}
	logging.Info().Int64("instance", s.inst.id).Str("path", path).Msg("credential persistence verified")
	return true
}
