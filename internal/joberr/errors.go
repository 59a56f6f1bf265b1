/*
Copyright 2026.

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

// Package joberr classifies job failures so the external scheduler and
// operators can tell retryable conditions from data-integrity problems via
// the process exit code. Every job is a leaf process; exit status is the only
// propagation channel.
package joberr

import (
	"errors"

	"github.com/pgpitr/internal/util"
)

// Kind is the failure class of a job error.
type Kind int

const (
	// KindFatal covers non-retryable failures: bad configuration, refused
	// backup-mode preconditions, unexpected I/O errors.
	KindFatal Kind = iota
	// KindTransient covers failures the next scheduled run is expected to
	// recover from, typically an unreachable destination.
	KindTransient
	// KindIntegrity covers conflicts that must never be resolved by
	// overwriting, such as a re-archived segment with different content.
	KindIntegrity
)

// Exit codes reported to the scheduler.
const (
	ExitOK        = 0
	ExitFatal     = 1
	ExitTransient = 2
)

type classified struct {
	kind Kind
	err  error
}

func (e *classified) Error() string { return e.err.Error() }
func (e *classified) Unwrap() error { return e.err }

// MarkTransient tags err as retryable on the next scheduled run.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: KindTransient, err: err}
}

// MarkIntegrity tags err as a data-integrity conflict.
func MarkIntegrity(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: KindIntegrity, err: err}
}

// KindOf returns the failure class of err. Untagged errors are classified
// with the transient-error heuristics, defaulting to fatal.
func KindOf(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	if util.IsRetryableError(err) {
		return KindTransient
	}
	return KindFatal
}

// IsIntegrity reports whether err is a data-integrity conflict.
func IsIntegrity(err error) bool {
	return err != nil && KindOf(err) == KindIntegrity
}

// IsTransient reports whether err is expected to clear on retry.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if KindOf(err) == KindTransient {
		return ExitTransient
	}
	return ExitFatal
}
