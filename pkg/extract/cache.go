package extract

import (
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// cacheTTL expires cached extractions that no live file references
// anymore; a changed file gets a new state hash and therefore a new key.
const cacheTTL = 30 * 24 * time.Hour

// MetadataCache stores raw extractor output keyed by (filepath,
// state_hash), so re-scans of unchanged files skip extraction entirely.
type MetadataCache struct {
	db *badgerdb.DB
}

// OpenMetadataCache opens (creating) the cache at dir.
func OpenMetadataCache(dir string) (*MetadataCache, error) {
	opts := badgerdb.DefaultOptions(dir).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata cache: %w", err)
	}
	return &MetadataCache{db: db}, nil
}

// key layout: "x:<state_hash>:<filepath>". The hash leads so stale entries
// for a path never collide with current ones.
func cacheKey(filepath, stateHash string) []byte {
	return []byte("x:" + stateHash + ":" + filepath)
}

// Get returns the cached raw payload for the exact filesystem state.
func (c *MetadataCache) Get(filepath, stateHash string) ([]byte, bool, error) {
	var out []byte
	err := c.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(cacheKey(filepath, stateHash))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("metadata cache read failed: %w", err)
	}
	return out, true, nil
}

// Put stores the raw payload for the given filesystem state.
func (c *MetadataCache) Put(filepath, stateHash string, raw []byte) error {
	err := c.db.Update(func(txn *badgerdb.Txn) error {
		e := badgerdb.NewEntry(cacheKey(filepath, stateHash), raw).WithTTL(cacheTTL)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("metadata cache write failed: %w", err)
	}
	return nil
}

// Close releases the cache.
func (c *MetadataCache) Close() error {
	return c.db.Close()
}
