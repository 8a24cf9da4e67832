// Package memory provides an in-process frontier.Store for tests and
// single-run crawls that do not need to survive a restart.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
)

// Store keeps the frontier in maps guarded by one mutex held only while
// mutating them.
type Store struct {
	mu        sync.Mutex
	opts      frontier.Options
	clock     crawler.Clock
	nextID    int64
	entries   map[int64]frontier.Entry
	keys      map[string]int64
	versions  map[int64]uint64
	ready     readyHeap
	redirects map[string]map[int]frontier.RedirectHop
	links     map[string]map[string]struct{}
}

var _ frontier.Store = (*Store)(nil)

// NewStore builds an empty store. A nil clock uses the system clock.
func NewStore(opts frontier.Options, clock crawler.Clock) *Store {
	if clock == nil {
		clock = system.New()
	}
	s := &Store{opts: opts, clock: clock}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.nextID = 0
	s.entries = make(map[int64]frontier.Entry)
	s.keys = make(map[string]int64)
	s.versions = make(map[int64]uint64)
	s.ready = nil
	s.redirects = make(map[string]map[int]frontier.RedirectHop)
	s.links = make(map[string]map[string]struct{})
}

// put stores e and refreshes its position in the ready heap.
func (s *Store) put(e frontier.Entry) {
	s.entries[e.ID] = e
	s.versions[e.ID]++
	if e.State == frontier.StateQueued {
		heap.Push(&s.ready, readyItem{entry: e, version: s.versions[e.ID]})
	}
}

// Enqueue implements frontier.Store.
func (s *Store) Enqueue(_ context.Context, req frontier.EnqueueRequest) (frontier.EnqueueResult, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.keys[req.Key]; ok {
		merged, changed := frontier.Merge(s.entries[id], req, s.opts, now)
		if changed {
			s.put(merged)
		}
		return frontier.EnqueueResult{Entry: merged}, nil
	}

	s.nextID++
	e := frontier.NewEntry(req, s.opts, now)
	e.ID = s.nextID
	s.keys[e.Key] = e.ID
	s.put(e)
	return frontier.EnqueueResult{Entry: e, Created: true}, nil
}

// ClaimBatch implements frontier.Store.
func (s *Store) ClaimBatch(_ context.Context, n int, worker string) ([]frontier.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		claimed []frontier.Entry
		waiting []readyItem
	)
	for len(claimed) < n && s.ready.Len() > 0 {
		item := heap.Pop(&s.ready).(readyItem)
		if item.version != s.versions[item.entry.ID] {
			continue
		}
		e := s.entries[item.entry.ID]
		if !frontier.Eligible(e, now) {
			waiting = append(waiting, item)
			continue
		}
		e = frontier.ClaimEntry(e, worker, now)
		s.put(e)
		claimed = append(claimed, e)
	}
	for _, item := range waiting {
		heap.Push(&s.ready, item)
	}
	return claimed, nil
}

// ClaimKey implements frontier.Store.
func (s *Store) ClaimKey(_ context.Context, key, worker string) (frontier.Entry, bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keys[key]
	if !ok {
		return frontier.Entry{}, false, nil
	}
	e := s.entries[id]
	if !frontier.Eligible(e, now) {
		return e, false, nil
	}
	e = frontier.ClaimEntry(e, worker, now)
	s.put(e)
	return e, true, nil
}

// Complete implements frontier.Store.
func (s *Store) Complete(_ context.Context, claim frontier.Claim, outcome frontier.Outcome) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[claim.EntryID]
	if !ok {
		return fmt.Errorf("complete entry %d: %w", claim.EntryID, frontier.ErrNotFound)
	}
	next, changed, err := frontier.ApplyOutcome(e, claim, outcome, now)
	if err != nil {
		return err
	}
	if changed {
		s.put(next)
	}
	return nil
}

// Release implements frontier.Store.
func (s *Store) Release(_ context.Context, claims []frontier.Claim, eligibleAt time.Time) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range claims {
		e, ok := s.entries[c.EntryID]
		if !ok {
			continue
		}
		if next, changed := frontier.ReleaseEntry(e, c, eligibleAt, now); changed {
			s.put(next)
		}
	}
	return nil
}

// ReclaimStale implements frontier.Store.
func (s *Store) ReclaimStale(_ context.Context, maxAge time.Duration) (int, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if frontier.Stale(e, maxAge, now) {
			s.put(frontier.Requeue(e, now))
			n++
		}
	}
	return n, nil
}

// IsExhausted implements frontier.Store.
func (s *Store) IsExhausted(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.State == frontier.StateQueued || e.State == frontier.StateClaimed {
			return false, nil
		}
	}
	return true, nil
}

// Lookup implements frontier.Store.
func (s *Store) Lookup(_ context.Context, key string) (frontier.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keys[key]
	if !ok {
		return frontier.Entry{}, false, nil
	}
	return s.entries[id], true, nil
}

// RecordRedirect implements frontier.Store.
func (s *Store) RecordRedirect(_ context.Context, hop frontier.RedirectHop) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, ok := s.redirects[hop.SourceKey]
	if !ok {
		chain = make(map[int]frontier.RedirectHop)
		s.redirects[hop.SourceKey] = chain
	}
	if _, exists := chain[hop.Seq]; !exists {
		chain[hop.Seq] = hop
	}
	return nil
}

// Redirects implements frontier.Store.
func (s *Store) Redirects(_ context.Context, sourceKey string) ([]frontier.RedirectHop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hops := make([]frontier.RedirectHop, 0, len(s.redirects[sourceKey]))
	for _, hop := range s.redirects[sourceKey] {
		hops = append(hops, hop)
	}
	sort.Slice(hops, func(i, j int) bool { return hops[i].Seq < hops[j].Seq })
	return hops, nil
}

// RecordLinks implements frontier.Store.
func (s *Store) RecordLinks(_ context.Context, fromKey string, toKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.links[fromKey]
	if !ok {
		out = make(map[string]struct{}, len(toKeys))
		s.links[fromKey] = out
	}
	for _, k := range toKeys {
		out[k] = struct{}{}
	}
	return nil
}

// OutLinks implements frontier.Store.
func (s *Store) OutLinks(_ context.Context, fromKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.links[fromKey]))
	for k := range s.links[fromKey] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats implements frontier.Store.
func (s *Store) Stats(_ context.Context) (frontier.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(frontier.Stats, len(frontier.States))
	for _, e := range s.entries {
		stats[e.State]++
	}
	return stats, nil
}

// Reset implements frontier.Store.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}

// Close implements frontier.Store.
func (*Store) Close() error { return nil }

type readyItem struct {
	entry   frontier.Entry
	version uint64
}

// readyHeap orders queued entries by claim priority. Items whose version no
// longer matches the store are skipped when popped.
type readyHeap []readyItem

func (h readyHeap) Len() int           { return len(h) }
func (h readyHeap) Less(i, j int) bool { return frontier.Less(h[i].entry, h[j].entry) }
func (h readyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(readyItem)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
