package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/archivist/pkg/catalog"
	"github.com/kraklabs/archivist/pkg/identify"
	"github.com/kraklabs/archivist/pkg/recipe"
	"github.com/kraklabs/archivist/pkg/runner"
	"github.com/kraklabs/archivist/pkg/worker"
)

// fakeStore is an in-memory catalog.Store sufficient to drive the
// scheduler's write loop in tests, without a real SQLite file.
type fakeStore struct {
	mu      sync.Mutex
	records map[int64]catalog.FileRecord
	nextID  int64
}

func newFakeStore(seed []catalog.FileRecord) *fakeStore {
	s := &fakeStore{records: map[int64]catalog.FileRecord{}}
	for _, r := range seed {
		s.nextID++
		r.ID = s.nextID
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStore) Insert(_ context.Context, r catalog.FileRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	s.records[r.ID] = r
	return r.ID, nil
}

func (s *fakeStore) Update(_ context.Context, id int64, f catalog.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[id]
	if f.Status != nil {
		r.Status = *f.Status
	}
	if f.Kept != nil {
		r.Kept = *f.Kept
	}
	if f.Mime != nil {
		r.Mime = *f.Mime
	}
	s.records[id] = r
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *fakeStore) DeleteDescendants(_ context.Context, id int64) error { return nil }

func (s *fakeStore) Count(_ context.Context, _ catalog.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *fakeStore) Select(_ context.Context, _ catalog.Filter) (catalog.Iterator, error) {
	s.mu.Lock()
	rows := make([]catalog.FileRecord, 0, len(s.records))
	for _, r := range s.records {
		rows = append(rows, r)
	}
	s.mu.Unlock()
	return &fakeIterator{rows: rows, idx: -1}, nil
}

func (s *fakeStore) Subfolders(_ context.Context, _ catalog.Filter) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) AppendRows(_ context.Context, rows []catalog.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.nextID++
		r.ID = s.nextID
		s.records[r.ID] = r
	}
	return nil
}

func (s *fakeStore) Get(_ context.Context, id int64) (catalog.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id], nil
}

func (s *fakeStore) Close() error { return nil }

type fakeIterator struct {
	rows []catalog.FileRecord
	idx  int
}

func (it *fakeIterator) Next() bool {
	it.idx++
	return it.idx < len(it.rows)
}
func (it *fakeIterator) Record() catalog.FileRecord { return it.rows[it.idx] }
func (it *fakeIterator) Err() error                 { return nil }
func (it *fakeIterator) Close() error               { return nil }

func TestSchedulerRunProcessesAllRecords(t *testing.T) {
	store := newFakeStore([]catalog.FileRecord{
		{Path: "a.txt", Status: catalog.StatusNew},
		{Path: "b.txt", Status: catalog.StatusNew},
		{Path: "c.txt", Status: catalog.StatusNew},
	})

	reg, err := recipe.Load([]byte(`{}`))
	require.NoError(t, err)

	sourceRoot := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, name), []byte("hello"), 0o644))
	}

	w := &worker.Worker{
		Recipes:    reg,
		Identifier: identify.New(nil, "", 0),
		Runner:     runner.New(),
		SourceRoot: sourceRoot,
		DestRoot:   t.TempDir(),
		TempRoot:   t.TempDir(),
		Options:    worker.Options{DefaultTimeout: time.Second},
	}

	sched := &Scheduler{Store: store, Worker: w, Workers: 2}
	counters, err := sched.Run(context.Background(), catalog.Filter{})
	require.NoError(t, err)
	require.EqualValues(t, 3, counters.Total)
	require.EqualValues(t, 3, counters.Finished)
	require.EqualValues(t, 3, counters.Skipped) // no recipe registered -> all skipped
}
