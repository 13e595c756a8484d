package hiscore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxEntries is the length of a ranked list.
	DefaultMaxEntries = 10

	mergeReadConcurrency = 8
)

// Store is a hiscore file guarded by a file lock.
type Store struct {
	path        string
	maxEntries  int
	lockTimeout time.Duration
}

// NewStore opens the hiscore file at path. The file is created on first write.
func NewStore(path string, maxEntries int, lockTimeout time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{path: path, maxEntries: maxEntries, lockTimeout: lockTimeout}
}

// Path returns the file path of the store.
func (s *Store) Path() string {
	return s.path
}

// Offer inserts e into the raw list if it ranks within the top entries.
// It reports whether the entry is present in the list afterwards.
func (s *Store) Offer(ctx context.Context, e Entry) (bool, error) {
	e.ensureFingerprint()
	kept := false
	err := WithLock(ctx, s.path, true, s.lockTimeout, func() error {
		f, err := readFile(s.path, true)
		if err != nil {
			return err
		}
		if n := len(f.Raw); n >= s.maxEntries && !less(e, f.Raw[n-1]) {
			return nil
		}
		f.Raw = mergeLists(s.maxEntries, f.Raw, []Entry{e})
		for _, r := range f.Raw {
			if r.Fingerprint == e.Fingerprint && r.Z == e.Z && r.Step == e.Step && r.Worker == e.Worker {
				kept = true
				break
			}
		}
		if !kept {
			return nil
		}
		return writeFile(s.path, f)
	})
	return kept, err
}

// Load reads the file under a shared lock. A missing file is empty.
func (s *Store) Load(ctx context.Context) (*File, error) {
	var f *File
	err := WithLock(ctx, s.path, false, s.lockTimeout, func() error {
		var err error
		f, err = readFile(s.path, true)
		return err
	})
	return f, err
}

// TopN returns the n best raw entries.
func (s *Store) TopN(ctx context.Context, n int) ([]Entry, error) {
	f, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(f.Raw) > n {
		return f.Raw[:n], nil
	}
	return f.Raw, nil
}

// SkippedSource is a merge source that could not be read.
type SkippedSource struct {
	Path   string
	Reason string
}

// MergeReport summarizes a merge.
type MergeReport struct {
	Merged  []string
	Skipped []SkippedSource
	Entries int
}

// Merge folds the given hiscore files into this store. Sources that are
// missing, corrupt or locked are skipped and reported; they never fail the
// merge. The resulting top list does not depend on the order of sources and
// merging the same sources twice changes nothing.
func (s *Store) Merge(ctx context.Context, sources []string) (*MergeReport, error) {
	files := make([]*File, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mergeReadConcurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			if _, err := os.Stat(src); err != nil {
				errs[i] = err
				return nil
			}
			err := WithLock(gctx, src, false, s.lockTimeout, func() error {
				f, err := readFile(src, false)
				files[i] = f
				return err
			})
			errs[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &MergeReport{}
	raws := [][]Entry{}
	trims := [][]Entry{}
	for i, src := range sources {
		if errs[i] != nil {
			report.Skipped = append(report.Skipped, SkippedSource{Path: src, Reason: skipReason(errs[i])})
			continue
		}
		report.Merged = append(report.Merged, src)
		raws = append(raws, files[i].Raw)
		trims = append(trims, files[i].Trimmed)
	}

	err := WithLock(ctx, s.path, true, s.lockTimeout, func() error {
		dest, err := readFile(s.path, true)
		if err != nil {
			return err
		}
		dest.Raw = mergeLists(s.maxEntries, append(raws, dest.Raw)...)
		dest.Trimmed = mergeLists(s.maxEntries, append(trims, dest.Trimmed)...)
		report.Entries = len(dest.Raw)
		return writeFile(s.path, dest)
	})
	if err != nil {
		return report, fmt.Errorf("failed to update %s: %w", s.path, err)
	}
	return report, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "missing"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	case errors.Is(err, ErrLocked):
		return "locked"
	}
	return err.Error()
}
