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

package shared

import "github.com/AlecAivazis/survey/v2"

// Confirm asks the operator to confirm a destructive action via an
// interactive terminal prompt. noInput skips the prompt and returns true
// directly, for scripted/CI invocations (--no-input) that must not block
// on stdin.
func Confirm(message string, noInput bool) (bool, error) {
	if noInput {
		return true, nil
	}
	var ok bool
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
