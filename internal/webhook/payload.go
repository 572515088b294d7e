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

// Package webhook delivers run-completion notifications to per-project
// subscriptions: exponential-backoff retries, each attempt recorded as
// a store.WebhookDelivery row, running in its own worker pool so a slow
// or unreachable target never blocks the scheduler.
package webhook

import "time"

// ProjectPayload is the "project" object of a delivery payload.
type ProjectPayload struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RunPayload is the "run" object of a delivery payload.
type RunPayload struct {
	UUID          string     `json:"uuid"`
	PipelineName  string     `json:"pipeline_name"`
	Status        string     `json:"status"`
	TaskExitCode  *int       `json:"task_exitcode"`
	CreatedDate   time.Time  `json:"created_date"`
	TaskStartDate *time.Time `json:"task_start_date,omitempty"`
	TaskEndDate   *time.Time `json:"task_end_date,omitempty"`
	ExecutionTime float64    `json:"execution_time"`
}

// Payload is the full JSON body POSTed to a subscription's target_url.
type Payload struct {
	Project ProjectPayload `json:"project"`
	Run     *RunPayload    `json:"run,omitempty"`
	Summary map[string]any `json:"summary,omitempty"`
	Results map[string]any `json:"results,omitempty"`
}
