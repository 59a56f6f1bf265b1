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

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("info", false)
	require.NoError(t, err)
	assert.False(t, log.V(1).Enabled())

	log, err = NewLogger("info", true)
	require.NoError(t, err)
	assert.True(t, log.V(1).Enabled())

	_, err = NewLogger("nonsense", false)
	assert.Error(t, err)
}

func TestNewRunID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newRunID()
		assert.Len(t, id, 8)
		seen[id] = true
	}
	// Collisions over 100 draws from a 32-bit space are effectively impossible.
	assert.Greater(t, len(seen), 99)
}
