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

// Package metrics records job outcomes for Prometheus. Jobs are short-lived
// processes, so instead of serving /metrics the recorder writes a
// node_exporter textfile on exit.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "pgpitr"

// Job run statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Recorder holds the collectors for one job process.
type Recorder struct {
	registry *prometheus.Registry

	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	bytesShipped     prometheus.Counter
	segmentsArchived prometheus.Counter
	segmentsPruned   prometheus.Counter
	generations      prometheus.Gauge
	lastSuccess      *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Number of job runs by job and status",
			},
			[]string{"job", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of job runs in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"job"},
		),
		bytesShipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_shipped_total",
				Help:      "Bytes uploaded to the backup destination",
			},
		),
		segmentsArchived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wal_segments_archived_total",
				Help:      "WAL segments accepted into the working directory",
			},
		),
		segmentsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wal_segments_pruned_total",
				Help:      "Local WAL segments pruned after confirmed shipping",
			},
		),
		generations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backup_generations",
				Help:      "Complete backup generations at the destination",
			},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run by job",
			},
			[]string{"job"},
		),
	}

	r.registry.MustRegister(
		r.jobRuns,
		r.jobDuration,
		r.bytesShipped,
		r.segmentsArchived,
		r.segmentsPruned,
		r.generations,
		r.lastSuccess,
	)
	return r
}

// RecordRun records one job outcome.
func (r *Recorder) RecordRun(job, status string, duration time.Duration) {
	r.jobRuns.WithLabelValues(job, status).Inc()
	r.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if status == StatusSuccess {
		r.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

// AddBytesShipped accumulates upload volume.
func (r *Recorder) AddBytesShipped(n int64) {
	if n > 0 {
		r.bytesShipped.Add(float64(n))
	}
}

// AddSegmentsArchived counts segments accepted by archive-wal.
func (r *Recorder) AddSegmentsArchived(n int) {
	if n > 0 {
		r.segmentsArchived.Add(float64(n))
	}
}

// AddSegmentsPruned counts local segments removed by ship-wal.
func (r *Recorder) AddSegmentsPruned(n int) {
	if n > 0 {
		r.segmentsPruned.Add(float64(n))
	}
}

// SetGenerations records how many complete generations exist.
func (r *Recorder) SetGenerations(n int) {
	r.generations.Set(float64(n))
}

// WriteTextfile exports the registry as pgpitr_<job>.prom in dir, written
// atomically so node_exporter never scrapes a half-written file. An empty
// dir disables export.
func (r *Recorder) WriteTextfile(dir, job string) error {
	if dir == "" {
		return nil
	}

	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pgpitr-metrics-*")
	if err != nil {
		return fmt.Errorf("failed to create metrics temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metrics temp file: %w", err)
	}

	final := filepath.Join(dir, fmt.Sprintf("%s_%s.prom", namespace, job))
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("failed to publish metrics textfile: %w", err)
	}
	return nil
}
