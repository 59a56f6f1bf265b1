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

// Package joblock serializes job runs on one host. Each job name maps to its
// own flock file, so a slow backup never blocks WAL shipping, while two
// shippers can never interleave their prune cycles.
package joblock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is a held per-job lock. The kernel releases it if the process dies,
// so a crashed run never leaves the job wedged.
type Lock struct {
	fl *flock.Flock
}

// Acquire tries to take the lock for job without blocking. held is false
// when another run of the same job owns it; that is a normal skip, not an
// error.
func Acquire(lockDir, job string) (lock *Lock, held bool, err error) {
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		return nil, false, fmt.Errorf("failed to create lock directory %s: %w", lockDir, err)
	}

	fl := flock.New(filepath.Join(lockDir, "pgpitr-"+job+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire %s lock: %w", job, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{fl: fl}, true, nil
}

// Release drops the lock. The lock file itself is left in place; reusing it
// keeps acquisition race-free.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Path returns the lock file path, for logging.
func (l *Lock) Path() string {
	return l.fl.Path()
}
