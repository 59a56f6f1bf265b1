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

package config

// restartOnlyOptions are PostgreSQL settings that cannot take effect on
// reload. The external configuration-management layer consults this table to
// decide between a reload and a disruptive restart; pgpitr itself never
// restarts the server.
var restartOnlyOptions = map[string]struct{}{
	"archive_mode":                   {},
	"data_directory":                 {},
	"listen_addresses":               {},
	"port":                           {},
	"max_connections":                {},
	"shared_buffers":                 {},
	"huge_pages":                     {},
	"wal_level":                      {},
	"wal_buffers":                    {},
	"max_wal_senders":                {},
	"max_replication_slots":          {},
	"max_worker_processes":           {},
	"max_prepared_transactions":      {},
	"track_commit_timestamp":         {},
	"shared_preload_libraries":       {},
	"unix_socket_directories":        {},
	"hot_standby":                    {},
	"recovery_prefetch":              {},
	"max_locks_per_transaction":      {},
	"max_pred_locks_per_transaction": {},
}

// RequiresRestart reports whether changing the given postgresql.conf option
// requires a server restart rather than a reload.
func RequiresRestart(option string) bool {
	_, ok := restartOnlyOptions[option]
	return ok
}
