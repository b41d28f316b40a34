/*
Copyright 2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package lib

import (
	"os"

	"github.com/gravitational/trace"

	"github.com/gravitational/apisession/lib/logger"
)

const (
	// ExitFailure is the exit code of a failed command.
	ExitFailure = 1
	// ExitUnauthenticated is the exit code of a command that needs a login.
	ExitUnauthenticated = 2
)

// Bail logs err and exits with the code ExitCode picks for it.
func Bail(err error) {
	log := logger.Standard()
	if agg, ok := trace.Unwrap(err).(trace.Aggregate); ok {
		for _, err := range agg.Errors() {
			log.WithError(err).Error("Terminating...")
		}
	} else {
		log.WithError(err).Error("Terminating...")
	}
	os.Exit(ExitCode(err))
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case trace.IsAccessDenied(err):
		return ExitUnauthenticated
	default:
		return ExitFailure
	}
}
