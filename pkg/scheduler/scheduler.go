// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later
// Package scheduler implements the Scheduler: a bounded worker pool that
// streams catalog records to the File Worker and funnels every outcome
// through a single serialized writer goroutine.
package scheduler

import (
	"context"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/alitto/pond"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kraklabs/archivist/pkg/catalog"
	"github.com/kraklabs/archivist/pkg/pathtree"
	"github.com/kraklabs/archivist/pkg/worker"
)

// Counters are the atomically-updated progress totals exposed to a progress
// printer.
type Counters struct {
	Total    int64
	Finished int64
	Failed   int64
	Skipped  int64
}

// ProgressFunc is invoked after every finished record with a snapshot of
// the counters.
type ProgressFunc func(Counters)

// Metrics holds the Prometheus counters the scheduler updates when a
// --metrics-addr is configured.
type Metrics struct {
	Finished prometheus.Counter
	Failed   prometheus.Counter
	Skipped  prometheus.Counter
}

// NewMetrics registers and returns the scheduler's Prometheus counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Finished: prometheus.NewCounter(prometheus.CounterOpts{Name: "archivist_files_finished_total", Help: "Files that completed processing."}),
		Failed:   prometheus.NewCounter(prometheus.CounterOpts{Name: "archivist_files_failed_total", Help: "Files that failed or timed out."}),
		Skipped:  prometheus.NewCounter(prometheus.CounterOpts{Name: "archivist_files_skipped_total", Help: "Files skipped for lack of a recipe."}),
	}
	reg.MustRegister(m.Finished, m.Failed, m.Skipped)
	return m
}

// Scheduler drives concurrent File Worker invocations over the records a
// Filter selects, applying every outcome through one writer goroutine.
type Scheduler struct {
	Store    catalog.Store
	Worker   *worker.Worker
	Workers  int // 0 means runtime.GOMAXPROCS(0)
	Multi    bool
	Progress ProgressFunc
	Metrics  *Metrics

	counters Counters
}

// Run executes filter's matching records to completion. It returns the
// final counters and the first store error encountered while streaming or
// writing; a store failure is fatal to the run.
func (s *Scheduler) Run(ctx context.Context, filter catalog.Filter) (Counters, error) {
	total, err := s.Store.Count(ctx, filter)
	if err != nil {
		return Counters{}, err
	}
	atomic.StoreInt64(&s.counters.Total, int64(total))

	if s.Multi {
		return s.runPartitioned(ctx, filter)
	}
	return s.runPool(ctx, filter)
}

func (s *Scheduler) workerCount() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// runPool is the default single-pool path: one bounded pool, one writer,
// draining every record the filter selects.
func (s *Scheduler) runPool(ctx context.Context, filter catalog.Filter) (Counters, error) {
	pool := pond.New(s.workerCount(), 0, pond.MinWorkers(1))

	outcomes := make(chan worker.Outcome, s.workerCount()*4)
	writerErr := make(chan error, 1)
	go s.writeLoop(ctx, outcomes, writerErr)

	it, err := s.Store.Select(ctx, filter)
	if err != nil {
		close(outcomes)
		pool.StopAndWait()
		<-writerErr
		return s.snapshot(), err
	}

	for it.Next() {
		rec := it.Record()
		pool.Submit(func() {
			outcomes <- s.Worker.Process(ctx, rec)
		})
	}
	iterErr := it.Err()
	_ = it.Close()

	pool.StopAndWait()
	close(outcomes)
	werr := <-writerErr

	if iterErr != nil {
		return s.snapshot(), iterErr
	}
	return s.snapshot(), werr
}

// runPartitioned selects the records of each top-level subfolder in turn,
// then the records directly at the source root, and submits them all to one
// shared bounded pool; a single serialized writer owns every catalog
// mutation.
func (s *Scheduler) runPartitioned(ctx context.Context, filter catalog.Filter) (Counters, error) {
	dirs, err := s.Store.Subfolders(ctx, filter)
	if err != nil {
		return Counters{}, err
	}
	if len(dirs) == 0 {
		return s.runPool(ctx, filter)
	}

	outcomes := make(chan worker.Outcome, s.workerCount()*4)
	writerErr := make(chan error, 1)
	go s.writeLoop(ctx, outcomes, writerErr)

	perDirPool := pond.New(s.workerCount(), 0, pond.MinWorkers(1))
	var firstErr error
	for _, dir := range dirs {
		dirFilter := filter
		dirFilter.FromPath = dir + "/"
		dirFilter.ToPath = dir + "0"
		it, selErr := s.Store.Select(ctx, dirFilter)
		if selErr != nil {
			if firstErr == nil {
				firstErr = selErr
			}
			continue
		}
		for it.Next() {
			rec := it.Record()
			perDirPool.Submit(func() {
				outcomes <- s.Worker.Process(ctx, rec)
			})
		}
		if err := it.Err(); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = it.Close()
	}
	// Records directly at the source root belong to no subfolder.
	if it, selErr := s.Store.Select(ctx, filter); selErr == nil {
		for it.Next() {
			if rec := it.Record(); !strings.Contains(rec.Path, "/") {
				perDirPool.Submit(func() { outcomes <- s.Worker.Process(ctx, rec) })
			}
		}
		if err := it.Err(); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = it.Close()
	} else if firstErr == nil {
		firstErr = selErr
	}
	perDirPool.StopAndWait()
	close(outcomes)
	werr := <-writerErr

	if firstErr != nil {
		return s.snapshot(), firstErr
	}
	return s.snapshot(), werr
}

// writeLoop is the single serialized writer: every catalog mutation
// funnels through here in arrival order.
func (s *Scheduler) writeLoop(ctx context.Context, outcomes <-chan worker.Outcome, done chan<- error) {
	for oc := range outcomes {
		if oc.Purge {
			if err := s.Store.DeleteDescendants(ctx, oc.Parent.ID); err != nil {
				done <- err
				s.drain(outcomes)
				return
			}
		}

		status := oc.Parent.Status
		fields := catalog.Fields{
			Status:   &status,
			Kept:     &oc.Parent.Kept,
			Mime:     &oc.Parent.Mime,
			Format:   &oc.Parent.Format,
			Version:  &oc.Parent.Version,
			PUID:     &oc.Parent.PUID,
			Encoding: &oc.Parent.Encoding,
			Size:     &oc.Parent.Size,
			Path:     &oc.Parent.Path,
		}
		if err := s.Store.Update(ctx, oc.Parent.ID, fields); err != nil {
			done <- err
			s.drain(outcomes)
			return
		}
		if len(oc.Children) > 0 {
			if err := s.Store.AppendRows(ctx, oc.Children); err != nil {
				done <- err
				s.drain(outcomes)
				return
			}
		}

		s.recordOutcome(status)
	}
	done <- nil
}

func (s *Scheduler) drain(outcomes <-chan worker.Outcome) {
	for range outcomes {
	}
}

func (s *Scheduler) recordOutcome(status catalog.Status) {
	atomic.AddInt64(&s.counters.Finished, 1)
	if status.Failure() {
		atomic.AddInt64(&s.counters.Failed, 1)
		if s.Metrics != nil {
			s.Metrics.Failed.Inc()
		}
	} else if status == catalog.StatusSkipped {
		atomic.AddInt64(&s.counters.Skipped, 1)
		if s.Metrics != nil {
			s.Metrics.Skipped.Inc()
		}
	} else if s.Metrics != nil {
		s.Metrics.Finished.Inc()
	}
	if s.Progress != nil {
		s.Progress(s.snapshot())
	}
}

func (s *Scheduler) snapshot() Counters {
	return Counters{
		Total:    atomic.LoadInt64(&s.counters.Total),
		Finished: atomic.LoadInt64(&s.counters.Finished),
		Failed:   atomic.LoadInt64(&s.counters.Failed),
		Skipped:  atomic.LoadInt64(&s.counters.Skipped),
	}
}

// PartitionTree builds a pathtree of paths, whose TopLevelDirs lists the
// top-level subfolders. Run does not use it: --multi partitions through
// Store.Subfolders.
func PartitionTree(paths []string, caseInsensitive bool) *pathtree.Node {
	t := pathtree.New(caseInsensitive)
	for _, p := range paths {
		t.Add(p)
	}
	return t
}
