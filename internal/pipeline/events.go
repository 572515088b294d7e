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

package pipeline

import "time"

// ProgressEvent is emitted by the engine as a run moves through its
// steps. Listeners use it to update run.CurrentStep/Progress, stream
// CLI output, or push REST progress notifications.
type ProgressEvent struct {
	RunUUID  string
	Step     string
	Index    int // 1-based
	OfTotal  int
	Started  bool          // true for step_started, false for step_completed
	Elapsed  time.Duration // set only when Started is false
}

// ProgressFunc receives progress events during a run. It must return
// quickly; the engine calls it synchronously between steps.
type ProgressFunc func(ProgressEvent)
