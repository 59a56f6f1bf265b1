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

// Package logging sets up the structured logger shared by all jobs. All
// output goes to stderr: the archive-wal invocation contract reserves stdout.
package logging

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap-backed logr.Logger at the given level
// (debug|info|warn|error). verbose forces debug.
func NewLogger(level string, verbose bool) (logr.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		var err error
		lvl, err = zapcore.ParseLevel(level)
		if err != nil {
			return logr.Logger{}, err
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	z, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(z), nil
}

// WithRunID attaches a short random correlation ID so log lines from a single
// job run can be grepped out of interleaved scheduler output.
func WithRunID(log logr.Logger, job string) logr.Logger {
	return log.WithValues("job", job, "runID", newRunID())
}

// newRunID generates an 8-character hex ID.
func newRunID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}
