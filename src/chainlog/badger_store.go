package chainlog

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"

	cm "github.com/natternet/natter/src/common"
)

const (
	entryPrefix = "entry"
	headPrefix  = "head"
)

// BadgerStore is the persistent store. Writes go through an in-memory window
// of recent entries per log first, then to badger, following the
// write-through layout of the in-memory side backed by disk for history.
// On open, every known log is re-verified from genesis; corrupt state is
// refused rather than replicated onward.
type BadgerStore struct {
	db   *badger.DB
	path string

	mu    sync.RWMutex
	cache *cm.RollingIndexMap
	heads map[string]*Head
}

// NewBadgerStore opens the database at path, creating it if nothing is there,
// and replays every stored log through a full chain verification.
func NewBadgerStore(cacheSize int, path string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithTruncate(true)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		db:    handle,
		path:  path,
		cache: cm.NewRollingIndexMap("entries", cacheSize),
		heads: make(map[string]*Head),
	}

	if err := store.load(); err != nil {
		handle.Close()
		return nil, err
	}

	return store, nil
}

// Path returns the database directory.
func (s *BadgerStore) Path() string {
	return s.path
}

/*******************************************************************************
Keys
*******************************************************************************/

func entryKey(owner string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s_%s_%020d", entryPrefix, owner, seq))
}

func headKey(owner string) []byte {
	return []byte(fmt.Sprintf("%s_%s", headPrefix, owner))
}

/*******************************************************************************
Load
*******************************************************************************/

// load scans head records and re-verifies each chain from genesis. Runs in
// the constructor, before any concurrent access; the tail of each log ends up
// in the cache window as a side effect of the walk.
func (s *BadgerStore) load() error {
	heads := make(map[string]*Head)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(headPrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			owner := string(item.Key()[len(prefix):])

			head := new(Head)
			err := item.Value(func(data []byte) error {
				return head.Unmarshal(data)
			})
			if err != nil {
				return err
			}

			heads[owner] = head
		}
		return nil
	})
	if err != nil {
		return err
	}

	for owner, head := range heads {
		if err := s.verifyChain(owner, head); err != nil {
			return err
		}
	}

	s.heads = heads

	return nil
}

// verifyChain walks owner's entries from genesis, checking every link, and
// that the walk ends on the recorded head.
func (s *BadgerStore) verifyChain(owner string, head *Head) error {
	prev := GenesisPrev()

	for seq := uint64(0); seq < head.Length; seq++ {
		entry, err := s.dbGetEntry(owner, seq)
		if err != nil {
			return NewIntegrityError(owner, seq, "entry missing from disk")
		}

		if entry.Seq != seq || !VerifyEntry(entry, prev) {
			return NewIntegrityError(owner, seq, "hash chain broken on disk")
		}

		prev = entry.Hash

		s.cache.Set(owner, entry, int(seq))
	}

	if !bytes.Equal(prev, head.Hash) {
		return NewIntegrityError(owner, head.Length, "head record does not match chain")
	}

	return nil
}

/*******************************************************************************
Store interface
*******************************************************************************/

// Owners ...
func (s *BadgerStore) Owners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]string, 0, len(s.heads))
	for o := range s.heads {
		owners = append(owners, o)
	}
	return owners
}

// Entry returns the entry at seq, from the cache window when it is recent
// enough and from disk otherwise.
func (s *BadgerStore) Entry(owner string, seq uint64) (*Entry, error) {
	s.mu.RLock()
	cached, err := s.cache.GetItem(owner, int(seq))
	s.mu.RUnlock()

	if err == nil {
		return cached.(*Entry), nil
	}

	return s.dbGetEntry(owner, seq)
}

// EntryRange ...
func (s *BadgerStore) EntryRange(owner string, start, end uint64) ([]*Entry, error) {
	if start > end {
		return nil, cm.NewStoreErr("badger entries", cm.KeyNotFound,
			fmt.Sprintf("[%d,%d)", start, end))
	}

	entries := make([]*Entry, 0, end-start)
	for seq := start; seq < end; seq++ {
		e, err := s.Entry(owner, seq)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SetEntries writes the batch through the cache, then commits entries and the
// new head record in a single badger transaction.
func (s *BadgerStore) SetEntries(owner string, entries []*Entry, head *Head) error {
	s.mu.Lock()
	for _, entry := range entries {
		if err := s.cache.Set(owner, entry, int(entry.Seq)); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.heads[owner] = head
	s.mu.Unlock()

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	for _, entry := range entries {
		val, err := entry.Marshal()
		if err != nil {
			return err
		}
		if err := tx.Set(entryKey(owner, entry.Seq), val); err != nil {
			return err
		}
	}

	headBytes, err := head.Marshal()
	if err != nil {
		return err
	}
	if err := tx.Set(headKey(owner), headBytes); err != nil {
		return err
	}

	return tx.Commit()
}

// Head ...
func (s *BadgerStore) Head(owner string) (*Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.heads[owner]
	if !ok {
		return nil, cm.NewStoreErr("badger heads", cm.KeyNotFound, owner)
	}
	return h, nil
}

// SetHead ...
func (s *BadgerStore) SetHead(owner string, head *Head) error {
	s.mu.Lock()
	s.heads[owner] = head
	s.mu.Unlock()

	headBytes, err := head.Marshal()
	if err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(headKey(owner), headBytes); err != nil {
		return err
	}

	return tx.Commit()
}

// Close ...
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

/*******************************************************************************
DB
*******************************************************************************/

func (s *BadgerStore) dbGetEntry(owner string, seq uint64) (*Entry, error) {
	key := entryKey(owner, seq)

	var entryBytes []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		entryBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, cm.NewStoreErr("badger entries", cm.KeyNotFound, string(key))
		}
		return nil, err
	}

	entry := new(Entry)
	if err := entry.Unmarshal(entryBytes); err != nil {
		return nil, err
	}

	return entry, nil
}
