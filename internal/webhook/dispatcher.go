// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Package webhook delivers bridge events to per-instance Discord
// webhooks. Enqueueing never blocks the event-processing path: the queue
// is a bounded FIFO that evicts its oldest entry when full, and a single
// worker per instance performs the actual HTTP delivery with retry.
package webhook

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/metrics"
	"github.com/006mi4/gotale/internal/models"
)

const (
	queueCapacity = 1000
	settingsTTL   = 15 * time.Second

	// workerPollInterval bounds how long a worker sleeps between queue
	// checks so teardown is observed promptly.
	workerPollInterval = 1 * time.Second
)

// SettingsSource loads the per-instance webhook configuration, keyed by
// event type. The dispatcher caches results with a short TTL.
type SettingsSource interface {
	Webhooks(instanceID int64) (map[string]models.WebhookConfig, error)
}

// task is one rendered message awaiting delivery.
type task struct {
	url       string
	message   string
	eventType string
}

// instanceState is the dispatch machinery for one instance, created
// lazily on first dispatch.
type instanceState struct {
	id      int64
	queue   chan task
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}

	diagMu sync.Mutex
	diag   models.WebhookDiagnostics

	cacheMu       sync.Mutex
	cached        map[string]models.WebhookConfig
	cacheLoadedAt time.Time
}

// Dispatcher fans bridge events out to configured webhooks.
type Dispatcher struct {
	src    SettingsSource
	client *http.Client

	mu        sync.Mutex
	instances map[int64]*instanceState
}

// New creates a Dispatcher backed by src for settings lookups.
func New(src SettingsSource) *Dispatcher {
	return &Dispatcher{
		src:       src,
		client:    &http.Client{Timeout: 8 * time.Second},
		instances: make(map[int64]*instanceState),
	}
}

// Dispatch renders and enqueues an event for delivery. It is cheap and
// non-blocking; events with no enabled webhook configured are discarded
// silently.
func (d *Dispatcher) Dispatch(instanceID int64, event models.BridgeEvent) {
	if event.Type == "" {
		return
	}

	st := d.state(instanceID)
	entry, ok := st.settings(d.src)[event.Type]
	if !ok || !entry.Enabled || entry.URL == "" {
		return
	}

	message := RenderMessage(event, entry.Template)
	if message == "" {
		return
	}

	st.enqueue(task{url: entry.URL, message: message, eventType: event.Type})
}

// Diagnostics returns a snapshot of the instance's dispatch counters and
// queue state. Zero-valued when the instance has never dispatched.
func (d *Dispatcher) Diagnostics(instanceID int64) models.WebhookDiagnostics {
	d.mu.Lock()
	st, ok := d.instances[instanceID]
	d.mu.Unlock()
	if !ok {
		return models.WebhookDiagnostics{QueueCapacity: queueCapacity}
	}

	st.diagMu.Lock()
	diag := st.diag
	st.diagMu.Unlock()

	diag.QueueSize = len(st.queue)
	diag.QueueCapacity = queueCapacity
	select {
	case <-st.done:
		diag.WorkerAlive = false
	default:
		diag.WorkerAlive = true
	}

	st.cacheMu.Lock()
	if !st.cacheLoadedAt.IsZero() {
		age := time.Since(st.cacheLoadedAt).Seconds()
		diag.SettingsCacheAge = &age
	}
	st.cacheMu.Unlock()
	return diag
}

// InvalidateSettings drops the cached settings for an instance so the
// next dispatch re-reads them, used when the operator saves new webhooks.
func (d *Dispatcher) InvalidateSettings(instanceID int64) {
	d.mu.Lock()
	st, ok := d.instances[instanceID]
	d.mu.Unlock()
	if !ok {
		return
	}
	st.cacheMu.Lock()
	st.cacheLoadedAt = time.Time{}
	st.cacheMu.Unlock()
}

// StopInstance tears down the worker for one instance. Queued tasks are
// abandoned.
func (d *Dispatcher) StopInstance(instanceID int64) {
	d.mu.Lock()
	st, ok := d.instances[instanceID]
	if ok {
		delete(d.instances, instanceID)
	}
	d.mu.Unlock()
	if ok {
		st.cancel()
		<-st.done
	}
}

// Close tears down all workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	states := make([]*instanceState, 0, len(d.instances))
	for id, st := range d.instances {
		states = append(states, st)
		delete(d.instances, id)
	}
	d.mu.Unlock()

	for _, st := range states {
		st.cancel()
		<-st.done
	}
}

// state returns the instance machinery, starting its worker on first use.
func (d *Dispatcher) state(instanceID int64) *instanceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.instances[instanceID]; ok {
		return st
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &instanceState{
		id:    instanceID,
		queue: make(chan task, queueCapacity),
		// Discord tolerates roughly 30 requests a minute per webhook;
		// pace below that with a small burst for chat flurries.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	d.instances[instanceID] = st

	go d.runWorker(ctx, st)
	return st
}

// runWorker drains the instance queue and performs deliveries.
func (d *Dispatcher) runWorker(ctx context.Context, st *instanceState) {
	defer close(st.done)

	timer := time.NewTimer(workerPollInterval)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(workerPollInterval)

		select {
		case <-ctx.Done():
			return
		case t := <-st.queue:
			metrics.WebhookQueueDepth.WithLabelValues(metrics.InstanceLabel(st.id)).Set(float64(len(st.queue)))
			if err := st.limiter.Wait(ctx); err != nil {
				return
			}
			d.deliver(ctx, st, t)
		case <-timer.C:
		}
	}
}

// settings returns the cached webhook configuration, reloading when the
// TTL has lapsed. A failed reload serves stale data rather than nothing.
func (st *instanceState) settings(src SettingsSource) map[string]models.WebhookConfig {
	st.cacheMu.Lock()
	defer st.cacheMu.Unlock()

	if st.cached != nil && time.Since(st.cacheLoadedAt) < settingsTTL {
		return st.cached
	}

	data, err := src.Webhooks(st.id)
	if err != nil {
		logging.Warn().Err(err).Int64("instance", st.id).Msg("failed to load webhook settings")
		if st.cached != nil {
			return st.cached
		}
		return map[string]models.WebhookConfig{}
	}
	st.cached = data
	st.cacheLoadedAt = time.Now()
	return st.cached
}

// enqueue adds a task, evicting the oldest entry when the queue is full.
func (st *instanceState) enqueue(t task) {
	select {
	case st.queue <- t:
		st.noteEnqueued(t.eventType)
	default:
		st.noteDropped(t.eventType)
		metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
		select {
		case <-st.queue:
		default:
		}
		select {
		case st.queue <- t:
			st.noteEnqueued(t.eventType)
		default:
			logging.Warn().Int64("instance", st.id).Str("event", t.eventType).
				Msg("webhook queue full, event dropped")
		}
	}
	metrics.WebhookQueueDepth.WithLabelValues(metrics.InstanceLabel(st.id)).Set(float64(len(st.queue)))
}

func (st *instanceState) noteEnqueued(eventType string) {
	st.diagMu.Lock()
	defer st.diagMu.Unlock()
	st.diag.EnqueuedTotal++
	st.diag.LastEventType = eventType
	st.diag.UpdatedAt = time.Now()
}

func (st *instanceState) noteDropped(eventType string) {
	st.diagMu.Lock()
	defer st.diagMu.Unlock()
	st.diag.DroppedTotal++
	st.diag.LastEventType = eventType
	st.diag.UpdatedAt = time.Now()
}

func (st *instanceState) noteSuccess(eventType string) {
	st.diagMu.Lock()
	defer st.diagMu.Unlock()
	now := time.Now()
	st.diag.SentTotal++
	st.diag.LastSuccessAt = &now
	st.diag.LastSuccessEventType = eventType
	st.diag.LastEventType = eventType
	st.diag.UpdatedAt = now
}

func (st *instanceState) noteFailure(eventType, errMsg string, code int, rateLimited bool) {
	st.diagMu.Lock()
	defer st.diagMu.Unlock()
	now := time.Now()
	st.diag.FailedTotal++
	if rateLimited {
		st.diag.RateLimitedTotal++
	}
	st.diag.LastFailureAt = &now
	st.diag.LastFailureEventType = eventType
	st.diag.LastEventType = eventType
	st.diag.LastError = errMsg
	st.diag.LastErrorCode = code
	st.diag.UpdatedAt = now
}
