package session

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Fetcher returns the authoritative list of one kind.
type Fetcher[R any] func(ctx context.Context) ([]R, error)

// Snapshot caches the last fetched list of one kind. Concurrent callers share
// a single in-flight fetch; Invalidate forces the next Get to refetch.
type Snapshot[R any] struct {
	fetch Fetcher[R]
	group singleflight.Group

	mu         sync.Mutex
	records    []R
	loaded     bool
	generation uint64
}

func NewSnapshot[R any](fetch Fetcher[R]) *Snapshot[R] {
	return &Snapshot[R]{fetch: fetch}
}

// Get returns a copy of the cached records, fetching them first when the cache
// is empty or was invalidated.
func (s *Snapshot[R]) Get(ctx context.Context) ([]R, error) {
	s.mu.Lock()
	if s.loaded {
		records := slices.Clone(s.records)
		s.mu.Unlock()
		return records, nil
	}
	generation := s.generation
	s.mu.Unlock()

	// The fetch is shared, so it runs detached from any one caller's
	// cancellation. Each caller still stops waiting when its own ctx ends.
	results := s.group.DoChan(strconv.FormatUint(generation, 10), func() (any, error) {
		records, err := s.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation == generation {
			s.records = records
			s.loaded = true
		}
		return records, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		return slices.Clone(result.Val.([]R)), nil
	}
}

func (s *Snapshot[R]) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.loaded = false
	s.generation++
}

// Generation counts invalidations.
func (s *Snapshot[R]) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
