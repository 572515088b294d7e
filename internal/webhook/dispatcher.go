// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aboutcode-org/scanpipe/internal/metrics"
	"github.com/aboutcode-org/scanpipe/internal/store"
	"github.com/aboutcode-org/scanpipe/pkg/httpclient"
)

// SummaryBuilder computes the compact per-project counts included in a
// payload's "summary" field. It is supplied by the caller because only
// the result-export layer knows how to summarize scan entities; the
// dispatcher itself only knows when summary is wanted.
type SummaryBuilder func(ctx context.Context, store store.ScanEntityStore, project *store.Project) (map[string]any, error)

// ResultsBuilder computes the full exported result document included in
// a payload's "results" field. Result export formatters are out of
// scope for the core; a nil ResultsBuilder means "results" is omitted
// even when a subscription requests it.
type ResultsBuilder func(ctx context.Context, project *store.Project, run *store.Run) (map[string]any, error)

// Backoff describes the delivery retry schedule.
type Backoff struct {
	Initial     time.Duration
	Factor      float64
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the contract: initial 1s, factor 2, cap 60s,
// max 5 attempts.
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Factor: 2, Max: 60 * time.Second, MaxAttempts: 5}
}

// Config configures a Dispatcher.
type Config struct {
	// SiteURL is the fully-qualified base URL used to build the
	// project.url payload field.
	SiteURL string

	// Workers is how many goroutines drain the delivery queue.
	// Defaults to 4.
	Workers int

	// QueueDepth bounds the buffered channel between OnRunTerminated /
	// OnAllRunsCompleted and the delivery workers. Defaults to 256.
	QueueDepth int

	Backoff Backoff

	SummaryBuilder SummaryBuilder
	ResultsBuilder ResultsBuilder
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.Backoff.MaxAttempts <= 0 {
		c.Backoff = DefaultBackoff()
	}
	return c
}

type deliveryJob struct {
	subscription *store.WebhookSubscription
	project      *store.Project
	run          *store.Run // nil for an OnAllRunsCompleted delivery with no terminal run on record
}

// Dispatcher implements scheduler.Dispatcher: it is notified of every
// Run's terminal transition and delivers payloads to that project's
// active subscriptions in its own worker pool, independent of the
// scheduler's.
type Dispatcher struct {
	stores store.WebhookStore
	runs   store.RunStore
	client *http.Client
	cfg    Config
	logger *slog.Logger

	jobs     chan deliveryJob
	wg       sync.WaitGroup
	stopOnce sync.Once

	metrics *metrics.Registry
}

// WithMetrics sets the registry the dispatcher records delivery outcomes
// into. A nil registry (the default) disables metrics entirely. Returns
// d for chaining.
func (d *Dispatcher) WithMetrics(m *metrics.Registry) *Dispatcher {
	d.metrics = m
	return d
}

// New builds a Dispatcher. be provides both WebhookStore (subscriptions
// and deliveries) and RunStore (to resolve the last terminal run for an
// OnAllRunsCompleted delivery).
func New(be store.Backend, cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpCfg := httpclient.DefaultConfig()
	httpCfg.UserAgent = "scanpipe-webhook/1.0"
	// Attempts are driven explicitly by Backoff so each one can be
	// recorded as its own WebhookDelivery row; the transport's own
	// retry logic would hide that from us.
	httpCfg.RetryAttempts = 0
	client, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, fmt.Errorf("build webhook http client: %w", err)
	}

	d := &Dispatcher{
		stores: be,
		runs:   be,
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "webhook")),
		jobs:   make(chan deliveryJob, cfg.withDefaults().QueueDepth),
	}
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d, nil
}

// Stop closes the delivery queue and waits for in-flight deliveries
// (including their retry backoff) to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

// OnRunTerminated implements scheduler.Dispatcher. It delivers to every
// active subscription with trigger_on_each_run=true.
func (d *Dispatcher) OnRunTerminated(ctx context.Context, run *store.Run) {
	project, err := d.projectOf(ctx, run.Project)
	if err != nil {
		d.logger.Error("OnRunTerminated: project lookup failed", slog.String("project", run.Project), slog.Any("error", err))
		return
	}
	subs, err := d.stores.ListWebhooks(ctx, run.Project)
	if err != nil {
		d.logger.Error("OnRunTerminated: list webhooks failed", slog.String("project", run.Project), slog.Any("error", err))
		return
	}
	for _, sub := range subs {
		if !sub.IsActive || !sub.TriggerOnEachRun {
			continue
		}
		d.enqueue(deliveryJob{subscription: sub, project: project, run: run})
	}
}

// OnAllRunsCompleted implements scheduler.Dispatcher. It delivers to
// every active subscription with trigger_on_each_run=false, attaching
// the most recently terminated run on record (if any) for context.
func (d *Dispatcher) OnAllRunsCompleted(ctx context.Context, project *store.Project) {
	subs, err := d.stores.ListWebhooks(ctx, project.UUID)
	if err != nil {
		d.logger.Error("OnAllRunsCompleted: list webhooks failed", slog.String("project", project.UUID), slog.Any("error", err))
		return
	}

	var pending []*store.WebhookSubscription
	for _, sub := range subs {
		if sub.IsActive && !sub.TriggerOnEachRun {
			pending = append(pending, sub)
		}
	}
	if len(pending) == 0 {
		return
	}

	lastRun := d.lastTerminalRun(ctx, project.UUID)
	for _, sub := range pending {
		d.enqueue(deliveryJob{subscription: sub, project: project, run: lastRun})
	}
}

func (d *Dispatcher) lastTerminalRun(ctx context.Context, project string) *store.Run {
	runs, err := d.runs.ListRuns(ctx, store.RunFilter{Project: project})
	if err != nil {
		d.logger.Error("lastTerminalRun: list runs failed", slog.String("project", project), slog.Any("error", err))
		return nil
	}
	var latest *store.Run
	for _, r := range runs {
		if !r.Status.Terminal() || r.TaskEndDate == nil {
			continue
		}
		if latest == nil || r.TaskEndDate.After(*latest.TaskEndDate) {
			latest = r
		}
	}
	return latest
}

func (d *Dispatcher) projectOf(ctx context.Context, uuid string) (*store.Project, error) {
	getter, ok := d.stores.(interface {
		GetProject(context.Context, string) (*store.Project, error)
	})
	if !ok {
		return nil, fmt.Errorf("store does not support project lookup")
	}
	return getter.GetProject(ctx, uuid)
}

// enqueue is fire-and-forget: a full queue never blocks the caller
// (the scheduler), it just spills into its own goroutine.
func (d *Dispatcher) enqueue(job deliveryJob) {
	select {
	case d.jobs <- job:
	default:
		go func() { d.jobs <- job }()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job deliveryJob) {
	payload := d.buildPayload(job)
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("marshal webhook payload failed", slog.String("subscription", job.subscription.UUID), slog.Any("error", err))
		return
	}

	delay := d.cfg.Backoff.Initial
	for attempt := 1; attempt <= d.cfg.Backoff.MaxAttempts; attempt++ {
		status, respBody, reqErr := d.attempt(job.subscription.TargetURL, body)
		success := reqErr == nil && status >= 200 && status < 300
		d.recordDelivery(job, attempt, status, respBody, success)

		if success {
			return
		}
		if attempt == d.cfg.Backoff.MaxAttempts {
			d.logger.Warn("webhook delivery permanently failed",
				slog.String("subscription", job.subscription.UUID),
				slog.Int("attempts", attempt))
			return
		}
		time.Sleep(delay)
		delay = time.Duration(float64(delay) * d.cfg.Backoff.Factor)
		if delay > d.cfg.Backoff.Max {
			delay = d.cfg.Backoff.Max
		}
	}
}

func (d *Dispatcher) attempt(targetURL string, body []byte) (status int, responseBody string, err error) {
	req, err := http.NewRequest(http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(limited), nil
}

func (d *Dispatcher) recordDelivery(job deliveryJob, attempt, status int, responseBody string, success bool) {
	delivery := &store.WebhookDelivery{
		UUID:           uuid.New().String(),
		Subscription:   job.subscription.UUID,
		SentAt:         time.Now(),
		ResponseStatus: status,
		ResponseBody:   responseBody,
		Attempt:        attempt,
		Succeeded:      success,
	}
	if job.run != nil {
		delivery.Run = job.run.UUID
	}
	if err := d.stores.CreateDelivery(context.Background(), delivery); err != nil {
		d.logger.Error("record webhook delivery failed", slog.String("subscription", job.subscription.UUID), slog.Any("error", err))
	}
	if d.metrics != nil {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		d.metrics.WebhooksSent.WithLabelValues(outcome).Inc()
	}
}

func (d *Dispatcher) buildPayload(job deliveryJob) Payload {
	payload := Payload{
		Project: ProjectPayload{
			UUID: job.project.UUID,
			Name: job.project.Name,
			URL:  fmt.Sprintf("%s/project/%s/", d.cfg.SiteURL, job.project.UUID),
		},
	}

	if job.run == nil {
		return payload
	}

	run := job.run
	payload.Run = &RunPayload{
		UUID:          run.UUID,
		PipelineName:  run.PipelineName,
		Status:        string(run.Status),
		TaskExitCode:  run.TaskExitCode,
		CreatedDate:   run.CreatedAt,
		TaskStartDate: run.TaskStartDate,
		TaskEndDate:   run.TaskEndDate,
		ExecutionTime: run.ExecutionTime().Seconds(),
	}

	if job.subscription.IncludeSummary && run.Status == store.RunSuccess && d.cfg.SummaryBuilder != nil {
		if entityStore, ok := d.stores.(store.ScanEntityStore); ok {
			summary, err := d.cfg.SummaryBuilder(context.Background(), entityStore, job.project)
			if err != nil {
				d.logger.Error("build webhook summary failed", slog.String("run", run.UUID), slog.Any("error", err))
			} else {
				payload.Summary = summary
			}
		}
	}

	if job.subscription.IncludeResults && d.cfg.ResultsBuilder != nil {
		results, err := d.cfg.ResultsBuilder(context.Background(), job.project, run)
		if err != nil {
			d.logger.Error("build webhook results failed", slog.String("run", run.UUID), slog.Any("error", err))
		} else {
			payload.Results = results
		}
	}

	return payload
}
