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

import (
	"errors"
	"fmt"
	"os"

	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

// Exit codes named in the CLI surface: generic failure, plus the two
// kinds create-project and add-input document explicit codes for.
const (
	ExitSuccess       = 0
	ExitGenericError  = 1
	ExitNameTaken     = 2
	ExitRunInProgress = 3
)

// ExitError carries the process exit code a command should terminate
// with, alongside the human-readable cause.
type ExitError struct {
	Code  int
	Cause error
}

func (e *ExitError) Error() string { return e.Cause.Error() }
func (e *ExitError) Unwrap() error  { return e.Cause }

// NewExitError classifies err against the error taxonomy's Kind and
// wraps it with the exit code §6 documents for that kind, defaulting to
// ExitGenericError.
func NewExitError(err error) *ExitError {
	code := ExitGenericError
	var verr *scanpipeerrors.ValidationError
	var serr *scanpipeerrors.StateError
	switch {
	case errors.As(err, &serr) && serr.Kind == scanpipeerrors.KindNameTaken:
		code = ExitNameTaken
	case errors.As(err, &serr) && serr.Kind == scanpipeerrors.KindRunInProgress:
		code = ExitRunInProgress
	case errors.As(err, &verr):
		code = ExitGenericError
	}
	return &ExitError{Code: code, Cause: err}
}

// HandleExitError prints err per §7's CLI failure contract (a one-line
// reason, plus a suggestion when the error is user-visible) and exits
// with its classified code. A nil err is a no-op.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		exitErr = NewExitError(err)
	}

	fmt.Fprintln(os.Stderr, "Error:", exitErr.Cause.Error())

	var visible scanpipeerrors.UserVisibleError
	if errors.As(exitErr.Cause, &visible) {
		if suggestion := visible.Suggestion(); suggestion != "" {
			fmt.Fprintf(os.Stderr, "Suggestion: %s\n", suggestion)
		}
	}

	if Verbosity() >= 2 {
		fmt.Fprintf(os.Stderr, "%+v\n", exitErr.Cause)
	}

	os.Exit(exitErr.Code)
}
