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

// Package walname classifies and orders PostgreSQL WAL file names. It is a
// leaf package: both the archiving pipeline and the backup set manager
// depend on these rules.
package walname

import (
	"regexp"
	"strings"
)

// Segment names are 24 hex digits: 8 timeline + 16 zero-padded LSN page.
// Zero padding makes lexicographic order equal numeric (LSN) order within a
// timeline, so plain string comparison decides which segments a base backup
// has superseded.
var segmentNameRE = regexp.MustCompile(`^[0-9A-F]{24}$`)

// auxiliarySuffixes are the non-segment files archive_command also receives.
var auxiliarySuffixes = []string{".history", ".backup", ".partial"}

// IsSegmentName reports whether name is a plain WAL segment name.
func IsSegmentName(name string) bool {
	return segmentNameRE.MatchString(name)
}

// IsAuxiliaryName reports whether name is a timeline-history, backup-history
// or partial-segment file. Those are archived alongside segments but never
// pruned by age, they are tiny and a restore may need any of them.
func IsAuxiliaryName(name string) bool {
	for _, suffix := range auxiliarySuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// IsArchivable reports whether archive_command should accept the file.
func IsArchivable(name string) bool {
	return IsSegmentName(name) || IsAuxiliaryName(name)
}

// Older reports whether segment a precedes segment b in WAL order.
func Older(a, b string) bool {
	return a < b
}
