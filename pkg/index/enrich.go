package index

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/extract"
	"github.com/majoor-app/majoor/pkg/storage"
)

// enrichYieldSlice is the sleep granularity while honoring the pause token.
const enrichYieldSlice = 200 * time.Millisecond

// StartWorkers launches the background enrichment pool. It is a no-op if
// the pool is already running.
func (ix *Indexer) StartWorkers() {
	if ix.stop != nil {
		return
	}
	ix.stop = make(chan struct{})
	ix.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(ix.cfg.Workers)
	for i := 0; i < ix.cfg.Workers; i++ {
		go func() {
			defer wg.Done()
			ix.workerLoop()
		}()
	}
	done := ix.done
	go func() {
		wg.Wait()
		close(done)
	}()
	logger.Info("enrichment workers started", "workers", ix.cfg.Workers)
}

// StopWorkers signals the pool and waits for in-flight tasks to finish.
func (ix *Indexer) StopWorkers() {
	if ix.stop == nil {
		return
	}
	close(ix.stop)
	<-ix.done
	ix.stop = nil
	ix.done = nil
	logger.Info("enrichment workers stopped")
}

// EnqueueEnrichment offers a path to the background queue. It reports false
// when the queue is full; the path will be picked up by a later scan.
func (ix *Indexer) EnqueueEnrichment(path string) bool {
	select {
	case ix.queue <- path:
		return true
	default:
		logger.Debug("enrichment queue full, dropping", "path", path, "pending", len(ix.queue))
		return false
	}
}

// QueueLength returns the number of pending enrichment tasks.
func (ix *Indexer) QueueLength() int { return len(ix.queue) }

func (ix *Indexer) workerLoop() {
	for {
		select {
		case <-ix.stop:
			return
		case path := <-ix.queue:
			if !ix.yieldBeforeTask() {
				return
			}
			if err := ix.enrichOne(context.Background(), path); err != nil {
				logger.Debug("background enrichment failed", "path", path, "error", err)
			}
		}
	}
}

// yieldBeforeTask waits out UI activity and maintenance before a task.
// It returns false when the worker should exit instead.
func (ix *Indexer) yieldBeforeTask() bool {
	for {
		if ix.maint != nil && ix.maint.IsActive() {
			select {
			case <-ix.stop:
				return false
			case <-time.After(enrichYieldSlice):
			}
			continue
		}
		rem := ix.pause.Remaining()
		if rem <= 0 {
			return true
		}
		if rem > enrichYieldSlice {
			rem = enrichYieldSlice
		}
		select {
		case <-ix.stop:
			return false
		case <-time.After(rem):
		}
	}
}

// enrichOne extracts metadata for one file and persists it. Files that
// vanished since enqueue are dropped silently.
func (ix *Indexer) enrichOne(ctx context.Context, path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return nil
	}
	stateHash := StateHash(path, st.ModTime().UnixNano(), st.Size())

	var meta *extract.ExtractedMetadata
	if ix.cache != nil {
		if raw, ok, cerr := ix.cache.Get(path, stateHash); cerr == nil && ok {
			var cached extract.ExtractedMetadata
			if json.Unmarshal(raw, &cached) == nil {
				meta = &cached
			}
		}
	}
	if meta == nil {
		meta, err = ix.extractor.Extract(ctx, path)
		if err != nil {
			meta = &extract.ExtractedMetadata{Quality: storage.QualityDegraded}
		}
		if ix.cache != nil {
			if raw, merr := json.Marshal(meta); merr == nil {
				_ = ix.cache.Put(path, stateHash, raw)
			}
		}
	}

	return ix.engine.Transaction(ctx, storage.TxImmediate, func(tx *storage.Tx) error {
		return writeMetadata(tx, path, meta)
	})
}
