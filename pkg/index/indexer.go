// Package index reconciles filesystem state with the asset index.
//
// The scanner walks a root, classifies files by extension, and streams
// them into bounded immediate transactions. A per-filepath journal of
// state hashes lets incremental scans skip unchanged files without
// touching their contents. Enrichment (dimensions, workflow payloads)
// runs inline for small scans or through a background FIFO drained by a
// small worker pool.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/extract"
	"github.com/majoor-app/majoor/pkg/maintenance"
	"github.com/majoor-app/majoor/pkg/roots"
	"github.com/majoor-app/majoor/pkg/storage"
)

// Config tunes the indexer. Zero values select the defaults.
type Config struct {
	// Batch ladder: file-count thresholds selecting the per-transaction
	// batch size for a scan.
	LadderSmallMax  int // default 500
	LadderMediumMax int // default 5000
	LadderLargeMax  int // default 50000
	BatchSmall      int // default 100
	BatchMedium     int // default 250
	BatchLarge      int // default 500
	BatchXL         int // default 1000

	// ScanGrace suppresses repeat background scans of a directory.
	ScanGrace time.Duration // default 30s

	// QueueSize bounds the background enrichment FIFO.
	QueueSize int // default 1024

	// Workers is the enrichment pool size.
	Workers int // default 1

	// ResolveTimeout bounds resolve-or-create index calls.
	ResolveTimeout time.Duration // default 15s

	// PauseWindow is how long enrichment yields after UI activity.
	PauseWindow time.Duration // default 1.5s
}

func (c *Config) applyDefaults() {
	if c.LadderSmallMax <= 0 {
		c.LadderSmallMax = 500
	}
	if c.LadderMediumMax <= 0 {
		c.LadderMediumMax = 5000
	}
	if c.LadderLargeMax <= 0 {
		c.LadderLargeMax = 50000
	}
	if c.BatchSmall <= 0 {
		c.BatchSmall = 100
	}
	if c.BatchMedium <= 0 {
		c.BatchMedium = 250
	}
	if c.BatchLarge <= 0 {
		c.BatchLarge = 500
	}
	if c.BatchXL <= 0 {
		c.BatchXL = 1000
	}
	if c.ScanGrace <= 0 {
		c.ScanGrace = 30 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 15 * time.Second
	}
}

// Options select the behavior of one scan.
type Options struct {
	Recursive          bool
	Incremental        bool
	Fast               bool // skip enrichment entirely
	BackgroundMetadata bool // enqueue enrichment instead of inline
	Source             string
	RootID             string
}

// Indexer reconciles directories with the index.
type Indexer struct {
	engine    *storage.Engine
	reg       *roots.Registry
	extractor extract.Extractor
	cache     *extract.MetadataCache // optional
	maint     *maintenance.Flag
	pause     *PauseToken
	throttle  *scanThrottle
	cfg       Config

	queue chan string
	stop  chan struct{}
	done  chan struct{}
}

// New creates an indexer. cache may be nil.
func New(engine *storage.Engine, reg *roots.Registry, extractor extract.Extractor, cache *extract.MetadataCache, maint *maintenance.Flag, cfg Config) *Indexer {
	cfg.applyDefaults()
	if extractor == nil {
		extractor = extract.NullExtractor{}
	}
	return &Indexer{
		engine:    engine,
		reg:       reg,
		extractor: extractor,
		cache:     cache,
		maint:     maint,
		pause:     NewPauseToken(cfg.PauseWindow),
		throttle:  newScanThrottle(cfg.ScanGrace),
		cfg:       cfg,
		queue:     make(chan string, cfg.QueueSize),
	}
}

// Pause returns the shared interaction-pause token.
func (ix *Indexer) Pause() *PauseToken { return ix.pause }

// RecentlyScanned reports whether dir completed a scan inside the grace
// window, for watcher/listing throttling.
func (ix *Indexer) RecentlyScanned(dir string) bool {
	return ix.throttle.ShouldSkip(dir)
}

// fileEntry is one classified file prepared for a batch.
type fileEntry struct {
	path      string // canonical, case-normalized
	filename  string
	subfolder string
	ext       string
	kind      string
	size      int64
	mtime     float64
	mtimeNs   int64
}

// batchSize picks the per-transaction batch from the ladder.
func (ix *Indexer) batchSize(total int) int {
	switch {
	case total <= ix.cfg.LadderSmallMax:
		return ix.cfg.BatchSmall
	case total <= ix.cfg.LadderMediumMax:
		return ix.cfg.BatchMedium
	case total <= ix.cfg.LadderLargeMax:
		return ix.cfg.BatchLarge
	default:
		return ix.cfg.BatchXL
	}
}

// ScanDirectory walks root and reconciles every classified file with the
// index.
func (ix *Indexer) ScanDirectory(ctx context.Context, root string, opts Options) (*ScanStats, error) {
	stats := &ScanStats{StartTime: time.Now().UTC()}
	defer func() {
		stats.Duration = time.Since(stats.StartTime).Seconds()
	}()

	if opts.Source == "" {
		opts.Source = storage.SourceOutput
	}
	if opts.Source == storage.SourceCustom && opts.RootID == "" {
		return nil, errcode.New(errcode.InvalidInput, "custom scans require a root id")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errcode.New(errcode.InvalidInput, "invalid scan root")
	}

	entries, err := ix.collect(ctx, absRoot, opts.Recursive)
	if err != nil {
		return nil, err
	}
	stats.Scanned = len(entries)

	batch := ix.batchSize(len(entries))
	for start := 0; start < len(entries); start += batch {
		end := start + batch
		if end > len(entries) {
			end = len(entries)
		}
		ix.processBatchWithRetry(ctx, entries[start:end], opts, stats)
	}

	ix.throttle.MarkScanned(absRoot)
	logger.Info("scan completed",
		"scan_root", absRoot,
		"scanned", stats.Scanned,
		"added", stats.Added,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)
	return stats, nil
}

// IndexPaths reconciles an explicit list of files, used by the watcher and
// by resolve-or-create.
func (ix *Indexer) IndexPaths(ctx context.Context, paths []string, opts Options) (*ScanStats, error) {
	stats := &ScanStats{StartTime: time.Now().UTC()}
	defer func() { stats.Duration = time.Since(stats.StartTime).Seconds() }()

	var entries []fileEntry
	for _, p := range paths {
		fe, ok := ix.statEntry(p)
		if !ok {
			continue
		}
		entries = append(entries, fe)
	}
	stats.Scanned = len(entries)

	batch := ix.batchSize(len(entries))
	for start := 0; start < len(entries); start += batch {
		end := start + batch
		if end > len(entries) {
			end = len(entries)
		}
		ix.processBatchWithRetry(ctx, entries[start:end], opts, stats)
	}
	return stats, nil
}

// collect walks the directory and classifies files. The index's own state
// directory and dotfiles are skipped.
func (ix *Indexer) collect(ctx context.Context, root string, recursive bool) ([]fileEntry, error) {
	var entries []fileEntry
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are counted per-file elsewhere
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if !recursive || name == roots.IndexDirName || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_mjr_") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || strings.HasSuffix(d.Name(), extract.SidecarSuffix) {
			return nil
		}
		fe, ok := ix.statEntry(path)
		if !ok {
			return nil
		}
		fe.subfolder = subfolderOf(root, path)
		entries = append(entries, fe)
		return nil
	})
	if walkErr != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, "scan walk failed", walkErr)
	}
	return entries, nil
}

func (ix *Indexer) statEntry(path string) (fileEntry, bool) {
	ext, kind, ok := ClassifyExt(path)
	if !ok {
		return fileEntry{}, false
	}
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return fileEntry{}, false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fileEntry{}, false
	}
	mt := st.ModTime()
	return fileEntry{
		path:     roots.NormalizeCase(abs),
		filename: filepath.Base(abs),
		ext:      ext,
		kind:     kind,
		size:     st.Size(),
		mtime:    float64(mt.UnixNano()) / 1e9,
		mtimeNs:  mt.UnixNano(),
	}, true
}

// subfolderOf returns the forward-slash relative folder of path under root.
func subfolderOf(root, path string) string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// processBatchWithRetry runs one batch transaction, retrying once before
// counting the batch's files as errors.
func (ix *Indexer) processBatchWithRetry(ctx context.Context, batch []fileEntry, opts Options, stats *ScanStats) {
	err := ix.processBatch(ctx, batch, opts, stats)
	if err == nil {
		return
	}
	logger.Warn("scan batch failed, retrying", "batch_size", len(batch), "error", err)
	if err = ix.processBatch(ctx, batch, opts, stats); err != nil {
		stats.Errors += len(batch)
		logger.Error("scan batch failed permanently", "batch_size", len(batch), "error", err)
	}
}

// existing holds the per-filepath state loaded at the start of a batch.
type existing struct {
	id          int64
	mtime       float64
	journalHash string
	richMeta    bool
}

// shouldSkipByJournal is the incremental journal skip predicate: the state
// hash is unchanged and, unless the scan is fast, rich metadata already
// exists for the row.
func shouldSkipByJournal(incremental bool, journalHash, stateHash string, fast bool, existingID int64, hasRichMeta bool) bool {
	return incremental && journalHash != "" && journalHash == stateHash &&
		(fast || (existingID != 0 && hasRichMeta))
}

// isIncrementalUnchanged reports an already-indexed row whose mtime did
// not move.
func isIncrementalUnchanged(incremental bool, existingID int64, existingMtime, mtime float64) bool {
	return incremental && existingID != 0 && existingMtime == mtime
}

// processBatch reconciles one batch atomically: load existing state,
// decide per file, then upsert assets, journal rows, and metadata in a
// single immediate transaction.
func (ix *Indexer) processBatch(ctx context.Context, batch []fileEntry, opts Options, stats *ScanStats) error {
	if len(batch) == 0 {
		return nil
	}

	var added, updated, skipped int
	err := ix.engine.Transaction(ctx, storage.TxImmediate, func(tx *storage.Tx) error {
		added, updated, skipped = 0, 0, 0

		paths := make([]any, len(batch))
		for i, fe := range batch {
			paths[i] = fe.path
		}

		state := make(map[string]*existing, len(batch))
		rows, err := tx.QueryIn(
			`SELECT a.id, a.filepath, a.mtime,
			        COALESCE(j.state_hash, '') AS journal_hash,
			        COALESCE(m.metadata_quality, '') AS quality
			 FROM assets a
			 LEFT JOIN scan_journal j ON j.filepath = a.filepath
			 LEFT JOIN asset_metadata m ON m.asset_id = a.id
			 WHERE a.filepath IN (?...)`, paths)
		if err != nil {
			return err
		}
		for _, r := range rows {
			q := r.String("quality")
			state[r.String("filepath")] = &existing{
				id:          r.Int64("id"),
				mtime:       r.Float("mtime"),
				journalHash: r.String("journal_hash"),
				richMeta:    q != "" && q != storage.QualityNone,
			}
		}

		var upserts []fileEntry
		for _, fe := range batch {
			ex := state[fe.path]
			stateHash := StateHash(fe.path, fe.mtimeNs, fe.size)

			var exID int64
			var exMtime float64
			var journalHash string
			var rich bool
			if ex != nil {
				exID, exMtime, journalHash, rich = ex.id, ex.mtime, ex.journalHash, ex.richMeta
			}

			if shouldSkipByJournal(opts.Incremental, journalHash, stateHash, opts.Fast, exID, rich) {
				skipped++
				continue
			}
			if isIncrementalUnchanged(opts.Incremental, exID, exMtime, fe.mtime) {
				skipped++
				continue
			}
			if exID == 0 {
				added++
			} else {
				updated++
			}
			upserts = append(upserts, fe)
		}

		if err := upsertAssets(tx, upserts, opts); err != nil {
			return err
		}
		if err := upsertJournal(tx, batch); err != nil {
			return err
		}

		if !opts.Fast && !opts.BackgroundMetadata {
			for _, fe := range upserts {
				if err := ix.enrichInTx(ctx, tx, fe); err != nil {
					// Extractor failures degrade, they never abort the
					// batch.
					logger.Debug("inline enrichment failed", "path", fe.path, "error", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	stats.Added += added
	stats.Updated += updated
	stats.Skipped += skipped

	if !opts.Fast && opts.BackgroundMetadata {
		for _, fe := range batch {
			ix.EnqueueEnrichment(fe.path)
		}
	}
	return nil
}

// assetUpsertChunk bounds rows per multi-row INSERT (10 params each, under
// the engine's parameter limit).
const assetUpsertChunk = 80

// upsertAssets writes the batch's asset rows. Kind is set on insert only;
// it is immutable for a filepath.
func upsertAssets(tx *storage.Tx, rows []fileEntry, opts Options) error {
	for start := 0; start < len(rows); start += assetUpsertChunk {
		end := start + assetUpsertChunk
		if end > len(rows) {
			end = len(rows)
		}
		part := rows[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO assets
			(filepath, filename, subfolder, source, root_id, kind, ext, size_bytes, mtime, mtime_ns, hash_state, created_at, updated_at, indexed_at) VALUES `)
		args := make([]any, 0, len(part)*10)
		for i, fe := range part {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString("(?,?,?,?,?,?,?,?,?,?,'none',CURRENT_TIMESTAMP,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)")
			args = append(args, fe.path, fe.filename, fe.subfolder, opts.Source, opts.RootID, fe.kind, fe.ext, fe.size, fe.mtime, fe.mtimeNs)
		}
		sb.WriteString(` ON CONFLICT(filepath) DO UPDATE SET
			filename = excluded.filename,
			subfolder = excluded.subfolder,
			source = excluded.source,
			root_id = excluded.root_id,
			ext = excluded.ext,
			size_bytes = excluded.size_bytes,
			mtime = excluded.mtime,
			mtime_ns = excluded.mtime_ns,
			hash_state = CASE
				WHEN assets.mtime_ns != excluded.mtime_ns OR assets.size_bytes != excluded.size_bytes
				THEN 'none' ELSE assets.hash_state END,
			updated_at = CURRENT_TIMESTAMP,
			indexed_at = CURRENT_TIMESTAMP`)

		if _, err := tx.Execute(sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

// journalUpsertChunk bounds rows per journal statement (5 params each).
const journalUpsertChunk = 150

// upsertJournal refreshes the scan journal for every file in the batch.
// The VALUES-table insert is guarded by asset existence so journal rows
// never outlive (or precede) their asset.
func upsertJournal(tx *storage.Tx, rows []fileEntry) error {
	for start := 0; start < len(rows); start += journalUpsertChunk {
		end := start + journalUpsertChunk
		if end > len(rows) {
			end = len(rows)
		}
		part := rows[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO scan_journal (filepath, dir_path, state_hash, mtime, size, last_seen)
			SELECT column1, column2, column3, column4, column5, CURRENT_TIMESTAMP FROM (VALUES `)
		args := make([]any, 0, len(part)*5)
		for i, fe := range part {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString("(?,?,?,?,?)")
			args = append(args,
				fe.path,
				filepath.Dir(fe.path),
				StateHash(fe.path, fe.mtimeNs, fe.size),
				fe.mtime,
				fe.size,
			)
		}
		sb.WriteString(`) WHERE EXISTS (SELECT 1 FROM assets a WHERE a.filepath = column1)
			ON CONFLICT(filepath) DO UPDATE SET
			dir_path = excluded.dir_path,
			state_hash = excluded.state_hash,
			mtime = excluded.mtime,
			size = excluded.size,
			last_seen = excluded.last_seen`)

		if _, err := tx.Execute(sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

// enrichInTx runs the extractor for a freshly upserted row and writes the
// metadata inside the batch transaction. The metadata cache short-circuits
// unchanged files.
func (ix *Indexer) enrichInTx(ctx context.Context, tx *storage.Tx, fe fileEntry) error {
	stateHash := StateHash(fe.path, fe.mtimeNs, fe.size)

	var meta *extract.ExtractedMetadata
	if ix.cache != nil {
		if raw, ok, err := ix.cache.Get(fe.path, stateHash); err == nil && ok {
			var cached extract.ExtractedMetadata
			if json.Unmarshal(raw, &cached) == nil {
				meta = &cached
			}
		}
	}
	if meta == nil {
		var err error
		meta, err = ix.extractor.Extract(ctx, fe.path)
		if err != nil {
			meta = &extract.ExtractedMetadata{Quality: storage.QualityDegraded}
		}
		if ix.cache != nil {
			if raw, merr := json.Marshal(meta); merr == nil {
				_ = ix.cache.Put(fe.path, stateHash, raw)
			}
		}
	}
	return writeMetadata(tx, fe.path, meta)
}

// writeMetadata persists an extraction result with existence guards. It is
// best-effort relative to user mutations: rating, tags, and tags_text are
// only set on first insert.
func writeMetadata(tx *storage.Tx, path string, meta *extract.ExtractedMetadata) error {
	if meta.Width != nil || meta.Duration != nil {
		if _, err := tx.Execute(
			`UPDATE assets SET width = ?, height = ?, duration = ?, updated_at = CURRENT_TIMESTAMP WHERE filepath = ?`,
			meta.Width, meta.Height, meta.Duration, path); err != nil {
			return err
		}
	}

	tagsJSON := "[]"
	tagsText := ""
	if len(meta.Tags) > 0 {
		if b, err := json.Marshal(meta.Tags); err == nil {
			tagsJSON = string(b)
			tagsText = strings.Join(meta.Tags, " ")
		}
	}
	var workflowHash string
	if meta.HasWorkflow() {
		sum := sha256.Sum256(meta.Workflow)
		workflowHash = hex.EncodeToString(sum[:])
	}
	quality := meta.Quality
	if quality == "" {
		quality = storage.QualityNone
	}

	_, err := tx.Execute(
		`INSERT INTO asset_metadata
			(asset_id, rating, tags, tags_text, workflow_hash, has_workflow, has_generation_data, metadata_quality, raw, updated_at)
		 SELECT id, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP FROM assets WHERE filepath = ?
		 ON CONFLICT(asset_id) DO UPDATE SET
			workflow_hash = excluded.workflow_hash,
			has_workflow = excluded.has_workflow,
			has_generation_data = excluded.has_generation_data,
			metadata_quality = excluded.metadata_quality,
			raw = excluded.raw,
			updated_at = CURRENT_TIMESTAMP`,
		meta.Rating, tagsJSON, tagsText, workflowHash,
		meta.HasWorkflow(), meta.HasGenerationData(), quality, meta.BoundedRaw(), path)
	return err
}
