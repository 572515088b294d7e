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

// Package metrics exposes scheduler and webhook counters via a
// Prometheus registry, for a worker process to serve over /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the counters every long-running scanpipe process
// (currently just cmd/scanpipe-worker) updates as it schedules runs
// and delivers webhooks.
type Registry struct {
	reg *prometheus.Registry

	RunsEnqueued prometheus.Counter
	RunsTerminal *prometheus.CounterVec
	WebhooksSent *prometheus.CounterVec
}

// NewRegistry builds a Registry with a private prometheus.Registry, so
// importing this package never pollutes prometheus' global default
// registry (and so tests can build one per case without collisions).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		RunsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scanpipe",
			Subsystem: "scheduler",
			Name:      "runs_enqueued_total",
			Help:      "Total number of runs transitioned from not_started to queued.",
		}),
		RunsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanpipe",
			Subsystem: "scheduler",
			Name:      "runs_terminal_total",
			Help:      "Total number of runs reaching a terminal status, by status.",
		}, []string{"status"}),
		WebhooksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanpipe",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Total number of webhook delivery attempts, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(r.RunsEnqueued, r.RunsTerminal, r.WebhooksSent)
	return r
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
