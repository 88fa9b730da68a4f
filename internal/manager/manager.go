// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Package manager supervises Hytale server processes: one OS process per
// instance, a pair of stream readers plus a log tailer feeding a single
// console monitor, and the stdin command channel every operator and
// automatic command passes through.
//
// Concurrency model: the registry (instance ID to record) is guarded by
// one mutex; all mutation funnels through Start, Stop, and the lazy
// exit-detection in IsRunning. Everything downstream of the output queue
// (console ring appends, auth state) is owned by the single monitor
// goroutine per instance and needs no locks.
package manager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/006mi4/gotale/internal/config"
	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/metrics"
	"github.com/006mi4/gotale/internal/models"
)

// Sentinel errors returned by the supervisor. Callers branch with
// errors.Is and surface only the message text to operators.
var (
	ErrAlreadyRunning   = errors.New("instance is already running")
	ErrNotRunning       = errors.New("instance is not running")
	ErrFilesMissing     = errors.New("server files are missing; install the server first")
	ErrStdinUnavailable = errors.New("instance stdin is unavailable")
)

// Stop escalation bounds.
const (
	stopGracefulWait  = 10 * time.Second
	stopTerminateWait = 5 * time.Second
	stopKillWait      = 5 * time.Second
)

// stopCommand is the polite shutdown command written to stdin first.
const stopCommand = "/stop"

// Broadcaster publishes console lines, auth prompts, and status flips to
// whatever transport fans them out to viewers. The manager treats this
// purely as "publish".
type Broadcaster interface {
	Publish(messageType string, instanceID int64, data interface{})
}

// RecordKeeper persists the authentication state of an instance.
type RecordKeeper interface {
	MarkAuthenticated(instanceID int64, credentialPath string, verified bool) error
}

// outputLine is one entry in the per-instance output queue.
type outputLine struct {
	source string
	text   string
}

// instance is one registered server process and its supervision state.
type instance struct {
	id   int64
	name string
	port int

	cmd   *exec.Cmd
	stdin io.WriteCloser

	// stdinMu serializes writes; the command channel guarantees
	// FIFO-per-writer and nothing more.
	stdinMu sync.Mutex

	// output is the multi-producer single-consumer queue between the
	// stream readers / log tailer and the console monitor.
	output chan outputLine

	console *consoleRing

	// done closes when the OS process has exited (observed by the wait
	// goroutine). stop closes when the instance is deregistered; the log
	// tailer and monitor exit on it.
	done chan struct{}
	stop chan struct{}

	stopOnce sync.Once

	startedAt time.Time
	stopping  atomic.Bool

	// authState mirrors the monitor-owned state machine for read-only
	// status queries. Only the monitor goroutine writes it.
	authState atomic.Int32
}

func (inst *instance) exited() bool {
	select {
	case <-inst.done:
		return true
	default:
		return false
	}
}

func (inst *instance) deregistered() chan struct{} { return inst.stop }

// Manager owns the process registry.
type Manager struct {
	cfg *config.Config
	rk  RecordKeeper
	bc  Broadcaster

	mu        sync.Mutex
	instances map[int64]*instance
}

// New creates a Manager. rk and bc must be non-nil; use no-op fakes in
// tests.
func New(cfg *config.Config, rk RecordKeeper, bc Broadcaster) *Manager {
	return &Manager{
		cfg:       cfg,
		rk:        rk,
		bc:        bc,
		instances: make(map[int64]*instance),
	}
}

// Start launches the instance process and wires its supervision tasks.
// Preconditions: the instance is not registered and the jar plus asset
// pack exist on disk. On spawn failure no record is left behind.
func (m *Manager) Start(id int64, port int, javaArgs, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[id]; exists {
		metrics.InstanceStarts.WithLabelValues("rejected").Inc()
		return ErrAlreadyRunning
	}

	dataDir := m.cfg.Paths.DataDir
	if !fileExists(JarPath(dataDir, id)) || !fileExists(AssetsPath(dataDir, id)) {
		metrics.InstanceStarts.WithLabelValues("rejected").Inc()
		return ErrFilesMissing
	}

	cmd := m.buildCommand(id, port, javaArgs)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		metrics.InstanceStarts.WithLabelValues("spawn_error").Inc()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		metrics.InstanceStarts.WithLabelValues("spawn_error").Inc()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		metrics.InstanceStarts.WithLabelValues("spawn_error").Inc()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		metrics.InstanceStarts.WithLabelValues("spawn_error").Inc()
		return fmt.Errorf("spawn %s: %w", m.cfg.Runtime.JavaBinary, err)
	}

	inst := &instance{
		id:        id,
		name:      name,
		port:      port,
		cmd:       cmd,
		stdin:     stdin,
		output:    make(chan outputLine, 256),
		console:   newConsoleRing(MaxConsoleLines),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
		startedAt: time.Now(),
	}
	m.instances[id] = inst
	metrics.InstancesRunning.Set(float64(len(m.instances)))
	metrics.InstanceStarts.WithLabelValues("ok").Inc()

	logging.Info().
		Int64("instance", id).
		Int("port", port).
		Int("pid", cmd.Process.Pid).
		Str("name", name).
		Msg("server started")

	go m.waitProcess(inst)
	go readStream(inst, stdout, models.SourceStdout)
	go readStream(inst, stderr, models.SourceStderr)
	go m.tailLogs(inst)
	go m.runMonitor(inst)

	// Credentials persisted by a previous run short-circuit the whole
	// device-code flow.
	if path := m.findCredentialArtifact(id); path != "" {
		if err := m.rk.MarkAuthenticated(id, path, true); err != nil {
			logging.Warn().Err(err).Int64("instance", id).Msg("failed to record existing credentials")
		}
	}

	return nil
}

// buildCommand assembles the launch command line:
//
//	java [-XX:AOTCache=…] [-XmsNM] [-XmxNM] [custom args…] \
//	    -jar HytaleServer.jar --assets Assets.zip --bind 0.0.0.0:<port>
//
// Memory flags from settings are skipped when the custom args already
// carry -Xms/-Xmx.
func (m *Manager) buildCommand(id int64, port int, javaArgs string) *exec.Cmd {
	rt := m.cfg.Runtime
	dataDir := m.cfg.Paths.DataDir

	args := []string{}
	if rt.AOTCache && fileExists(AOTPath(dataDir, id)) {
		args = append(args, "-XX:AOTCache="+AOTFileName)
	}

	custom := strings.Fields(javaArgs)
	if rt.MinRAMMB > 0 && !hasFlagPrefix(custom, "-Xms") {
		args = append(args, fmt.Sprintf("-Xms%dM", rt.MinRAMMB))
	}
	if rt.MaxRAMMB > 0 && !hasFlagPrefix(custom, "-Xmx") {
		args = append(args, fmt.Sprintf("-Xmx%dM", rt.MaxRAMMB))
	}
	args = append(args, custom...)
	args = append(args,
		"-jar", JarFileName,
		"--assets", AssetsFileName,
		"--bind", fmt.Sprintf("0.0.0.0:%d", port),
	)

	cmd := exec.Command(rt.JavaBinary, args...)
	cmd.Dir = InstanceDir(dataDir, id)
	cmd.Env = append(os.Environ(),
		"HYTALE_PROFILE="+rt.Profile,
		"HYTALE_AUTH_MODE="+rt.AuthMode,
	)
	for k, v := range rt.ExtraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return cmd
}

func hasFlagPrefix(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

// waitProcess reaps the child and closes done so liveness polls observe
// the exit.
func (m *Manager) waitProcess(inst *instance) {
	err := inst.cmd.Wait()
	close(inst.done)
	if err != nil && !inst.stopping.Load() {
		logging.Warn().Err(err).Int64("instance", inst.id).Msg("server process exited abnormally")
	} else {
		logging.Info().Int64("instance", inst.id).Msg("server process exited")
	}
}

// Stop shuts an instance down: polite /stop through the command channel,
// a bounded wait, then SIGTERM, then Kill. The record is always removed
// on the success path, even when kill was required. Stopping a
// non-running instance returns ErrNotRunning with no side effects.
func (m *Manager) Stop(id int64) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		metrics.InstanceStops.WithLabelValues("not_running").Inc()
		return ErrNotRunning
	}

	inst.stopping.Store(true)

	result := "graceful"
	if err := m.sendCommand(inst, stopCommand, "operator"); err != nil {
		logging.Debug().Err(err).Int64("instance", id).Msg("graceful stop command not delivered")
	}

	if !waitFor(inst.done, stopGracefulWait) {
		result = "terminated"
		logging.Warn().Int64("instance", id).Msg("graceful stop timed out, sending SIGTERM")
		if err := inst.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logging.Debug().Err(err).Int64("instance", id).Msg("terminate signal failed")
		}
		if !waitFor(inst.done, stopTerminateWait) {
			result = "killed"
			logging.Warn().Int64("instance", id).Msg("terminate timed out, killing process")
			if err := inst.cmd.Process.Kill(); err != nil {
				logging.Error().Err(err).Int64("instance", id).Msg("kill failed")
			}
			if !waitFor(inst.done, stopKillWait) {
				// The caller is released regardless; the wait goroutine
				// will still reap the process if it ever dies.
				logging.Error().Int64("instance", id).Msg("process survived kill within wait window")
			}
		}
	}

	m.deregister(id, inst)
	metrics.InstanceStops.WithLabelValues(result).Inc()
	logging.Info().Int64("instance", id).Str("result", result).Msg("server stopped")
	return nil
}

// IsRunning reports whether the instance's OS process is alive. An exit
// discovered here lazily removes the record: callers must tolerate a
// running→not-running transition observed only at query time.
func (m *Manager) IsRunning(id int64) bool {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if inst.exited() {
		m.deregister(id, inst)
		return false
	}
	return true
}

// SendCommand writes text plus a newline to the instance's stdin. This
// is the single choke point for operator and automatic commands alike.
func (m *Manager) SendCommand(id int64, text string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	return m.sendCommand(inst, text, "operator")
}

func (m *Manager) sendCommand(inst *instance, text, origin string) error {
	if inst.exited() {
		return ErrNotRunning
	}
	if inst.stdin == nil {
		return ErrStdinUnavailable
	}

	inst.stdinMu.Lock()
	defer inst.stdinMu.Unlock()
	if _, err := io.WriteString(inst.stdin, text+"\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrStdinUnavailable, err)
	}
	metrics.CommandsSent.WithLabelValues(origin).Inc()
	return nil
}

// Status returns the combined registry-plus-liveness view, so callers
// cannot drift between "registered" and "process alive". The externally
// persisted status label remains the HTTP layer's responsibility.
func (m *Manager) Status(id int64) models.InstanceStatus {
	st := models.InstanceStatus{ID: id, State: models.StateOffline, AuthState: AuthUnauthenticated.String()}

	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return st
	}
	if inst.exited() {
		m.deregister(id, inst)
		return st
	}

	st.Running = true
	st.State = models.StateOnline
	if inst.stopping.Load() {
		st.State = models.StateStopping
	} else if time.Since(inst.startedAt) < initialStatusDelay {
		st.State = models.StateStarting
	}
	st.Name = inst.name
	st.Port = inst.port
	st.PID = inst.cmd.Process.Pid
	started := inst.startedAt
	st.StartedAt = &started
	st.AuthState = AuthState(inst.authState.Load()).String()
	return st
}

// ConsoleTail returns the last n buffered console lines for an instance,
// oldest first; nil when the instance is unknown.
func (m *Manager) ConsoleTail(id int64, n int) []string {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return inst.console.Tail(n)
}

// Shutdown stops every registered instance. Used on daemon exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := m.Stop(id); err != nil && !errors.Is(err, ErrNotRunning) {
				logging.Warn().Err(err).Int64("instance", id).Msg("shutdown stop failed")
			}
		}(id)
	}
	wg.Wait()
}

// deregister removes the record and releases the monitor and tailer.
// Safe to call more than once for the same instance.
func (m *Manager) deregister(id int64, inst *instance) {
	m.mu.Lock()
	if current, ok := m.instances[id]; ok && current == inst {
		delete(m.instances, id)
	}
	metrics.InstancesRunning.Set(float64(len(m.instances)))
	m.mu.Unlock()

	inst.stopOnce.Do(func() { close(inst.stop) })
}

// findCredentialArtifact returns the first configured credential
// candidate present in the instance directory, or "".
func (m *Manager) findCredentialArtifact(id int64) string {
	dir := InstanceDir(m.cfg.Paths.DataDir, id)
	for _, rel := range m.cfg.Runtime.CredentialFiles {
		path := filepath.Join(dir, rel)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// waitFor waits for ch to close, up to d. Returns true when ch closed.
func waitFor(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
