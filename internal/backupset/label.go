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

// Package backupset manages the set of backup generations at the destination:
// label naming, the current alias, retention and WAL-archive cleaning.
package backupset

import (
	"fmt"
	"regexp"
	"time"
)

// LabelFormat names generation directories. UTC and fixed-width, so labels
// sort lexicographically in creation order and never collide within a second.
const LabelFormat = "20060102T150405Z"

var labelRE = regexp.MustCompile(`^\d{8}T\d{6}Z$`)

// NewLabel returns the generation label for a backup started at t.
func NewLabel(t time.Time) string {
	return t.UTC().Format(LabelFormat)
}

// IsLabel reports whether s looks like a generation label.
func IsLabel(s string) bool {
	return labelRE.MatchString(s)
}

// ParseLabel returns the start time encoded in a generation label.
func ParseLabel(s string) (time.Time, error) {
	if !IsLabel(s) {
		return time.Time{}, fmt.Errorf("invalid generation label: %q", s)
	}
	t, err := time.Parse(LabelFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid generation label %q: %w", s, err)
	}
	return t, nil
}
