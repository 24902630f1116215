package chainlog

import (
	"fmt"
	"strconv"
	"sync"

	cm "github.com/natternet/natter/src/common"
)

// InmemStore keeps every entry in memory. It backs throwaway channels and
// tests; nothing survives a restart.
type InmemStore struct {
	mu      sync.RWMutex
	entries map[string][]*Entry
	heads   map[string]*Head
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		entries: make(map[string][]*Entry),
		heads:   make(map[string]*Head),
	}
}

// Owners ...
func (s *InmemStore) Owners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]string, 0, len(s.heads))
	for o := range s.heads {
		owners = append(owners, o)
	}
	return owners
}

// Entry ...
func (s *InmemStore) Entry(owner string, seq uint64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	es := s.entries[owner]
	if seq >= uint64(len(es)) {
		return nil, cm.NewStoreErr("inmem entries", cm.KeyNotFound, strconv.FormatUint(seq, 10))
	}
	return es[seq], nil
}

// EntryRange ...
func (s *InmemStore) EntryRange(owner string, start, end uint64) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	es := s.entries[owner]
	if start > end || end > uint64(len(es)) {
		return nil, cm.NewStoreErr("inmem entries", cm.KeyNotFound,
			fmt.Sprintf("[%d,%d)", start, end))
	}

	out := make([]*Entry, end-start)
	copy(out, es[start:end])
	return out, nil
}

// SetEntries appends the batch and replaces the head record in one critical
// section. Entries must continue the stored sequence exactly.
func (s *InmemStore) SetEntries(owner string, entries []*Entry, head *Head) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	es := s.entries[owner]
	for _, e := range entries {
		if e.Seq != uint64(len(es)) {
			return cm.NewStoreErr("inmem entries", cm.SkippedIndex, strconv.FormatUint(e.Seq, 10))
		}
		es = append(es, e)
	}

	s.entries[owner] = es
	s.heads[owner] = head
	return nil
}

// Head ...
func (s *InmemStore) Head(owner string) (*Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.heads[owner]
	if !ok {
		return nil, cm.NewStoreErr("inmem heads", cm.KeyNotFound, owner)
	}
	return h, nil
}

// SetHead ...
func (s *InmemStore) SetHead(owner string, head *Head) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.heads[owner] = head
	return nil
}

// Close ...
func (s *InmemStore) Close() error {
	return nil
}
