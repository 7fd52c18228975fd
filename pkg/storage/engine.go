// Package storage implements the embedded SQL store that owns all
// persistent index state.
//
// The engine opens a single SQLite database in WAL mode with foreign keys
// enabled, keeps a bounded connection pool for readers, and funnels every
// write through a single-writer gate. All other subsystems hold the engine
// by reference and go through Query / Execute / Transaction; nothing else
// in the process touches the database files.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/errcode"
)

// maxSQLParams is the safe upper bound on bound parameters per statement.
// SQLite's compiled default is 999; 900 leaves room for fixed arguments.
const maxSQLParams = 900

// inMarker is the placeholder QueryIn expands into a chunked IN list.
const inMarker = "(?...)"

// TxMode selects the SQLite transaction begin mode.
type TxMode string

const (
	TxDeferred  TxMode = "DEFERRED"
	TxImmediate TxMode = "IMMEDIATE"
	TxExclusive TxMode = "EXCLUSIVE"
)

// Config controls the engine.
type Config struct {
	// Path is the SQLite database file. The parent directory is created
	// on open.
	Path string

	// MaxConns bounds the connection pool. Default 8, hard cap 64.
	MaxConns int

	// AcquireTimeout bounds waiting for the writer gate. Default 30s.
	AcquireTimeout time.Duration

	// QueryTimeout bounds individual reads/writes. Default 60s.
	QueryTimeout time.Duration

	// HardTimeout is the ceiling applied to transactions. Default 300s.
	HardTimeout time.Duration

	// AutoReset enables corruption self-heal. Default on.
	AutoReset bool

	// AutoResetCooldown is the minimum spacing between self-heal
	// attempts. Default 60s.
	AutoResetCooldown time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MaxConns > 64 {
		c.MaxConns = 64
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 60 * time.Second
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = 300 * time.Second
	}
	if c.AutoResetCooldown <= 0 {
		c.AutoResetCooldown = 60 * time.Second
	}
}

// Row is one result row keyed by column name.
type Row map[string]any

// Int64 reads an integer column, tolerating the driver's int64/float64
// representations.
func (r Row) Int64(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Float reads a float column.
func (r Row) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// String reads a text column.
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// Bool reads an integer column as a boolean.
func (r Row) Bool(key string) bool {
	return r.Int64(key) != 0
}

// Diagnostics is a snapshot of engine health.
type Diagnostics struct {
	Locked             bool   `json:"locked"`
	Malformed          bool   `json:"malformed"`
	RecoveryState      string `json:"recovery_state"`
	ActiveConns        int    `json:"active_conns"`
	AutoResetAttempts  int64  `json:"auto_reset_attempts"`
	AutoResetSuccesses int64  `json:"auto_reset_successes"`
	AutoResetFailures  int64  `json:"auto_reset_failures"`
}

// Engine is the storage engine. Safe for concurrent use.
type Engine struct {
	cfg Config

	// mu serializes reopen/reset against all queries and transactions.
	// Readers hold RLock for the duration of a call.
	mu    sync.RWMutex
	db    *gorm.DB
	sqlDB *sql.DB

	// writer is the single-writer gate: one token, held for the whole
	// write or transaction.
	writer chan struct{}

	closed atomic.Bool

	locked        atomic.Bool
	malformed     atomic.Bool
	recoveryState atomic.Value // string
	lastReset     atomic.Int64 // unix nanos of last self-heal attempt

	resetAttempts  atomic.Int64
	resetSuccesses atomic.Int64
	resetFailures  atomic.Int64
}

// Open initializes the engine, creating the database and schema when
// missing.
func Open(cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	if cfg.Path == "" {
		return nil, errcode.New(errcode.InvalidInput, "storage path is required")
	}

	e := &Engine{
		cfg:    cfg,
		writer: make(chan struct{}, 1),
	}
	e.writer <- struct{}{}
	e.recoveryState.Store("idle")

	if err := e.open(); err != nil {
		return nil, err
	}
	return e, nil
}

// open (re)connects and migrates the schema. Caller must hold mu or be the
// only goroutine with a reference.
func (e *Engine) open() error {
	if err := os.MkdirAll(filepath.Dir(e.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	// WAL for concurrent readers with a single writer; busy_timeout so
	// short lock contention waits instead of failing.
	dsn := e.cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(e.cfg.MaxConns)
	sqlDB.SetMaxIdleConns(e.cfg.MaxConns)

	if err := db.AutoMigrate(AllModels()...); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	if err := db.Exec(ftsSchema).Error; err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to create FTS schema: %w", err)
	}

	e.db = db
	e.sqlDB = sqlDB
	return nil
}

// Query runs a read-only statement and returns all rows.
func (e *Engine) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	if e.closed.Load() {
		return nil, errcode.New(errcode.ServiceUnavailable, "storage engine closed")
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()

	var rows []map[string]any
	if err := db.WithContext(ctx).Raw(query, args...).Find(&rows).Error; err != nil {
		return nil, e.classify(err)
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row(r)
	}
	return out, nil
}

// Execute runs a single write statement and returns the affected row
// count. The writer gate serializes it against transactions.
func (e *Engine) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	if e.closed.Load() {
		return 0, errcode.New(errcode.ServiceUnavailable, "storage engine closed")
	}
	release, err := e.acquireWriter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()

	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return 0, e.classify(res.Error)
	}
	return res.RowsAffected, nil
}

// QueryIn expands the (?...) marker in query into chunked IN lists bounded
// by the engine's parameter limit, concatenating results. Extra args bind
// after the IN values in each chunk.
func (e *Engine) QueryIn(ctx context.Context, query string, values []any, args ...any) ([]Row, error) {
	if !strings.Contains(query, inMarker) {
		return nil, errcode.New(errcode.InvalidInput, "query has no IN placeholder")
	}
	if len(values) == 0 {
		return nil, nil
	}
	chunk := maxSQLParams - len(args)
	if chunk < 1 {
		chunk = 1
	}

	var out []Row
	for start := 0; start < len(values); start += chunk {
		end := start + chunk
		if end > len(values) {
			end = len(values)
		}
		part := values[start:end]

		expanded := strings.Replace(query, inMarker, "("+placeholders(len(part))+")", 1)
		bound := make([]any, 0, len(part)+len(args))
		bound = append(bound, part...)
		bound = append(bound, args...)

		rows, err := e.Query(ctx, expanded, bound...)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func placeholders(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('?')
	}
	return b.String()
}

// Tx is a scoped write connection. All statements inside commit or roll
// back atomically when the Transaction callback returns.
type Tx struct {
	conn *gorm.DB
	e    *Engine
}

// Query runs a read inside the transaction.
func (t *Tx) Query(query string, args ...any) ([]Row, error) {
	var rows []map[string]any
	if err := t.conn.Raw(query, args...).Find(&rows).Error; err != nil {
		return nil, t.e.classify(err)
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row(r)
	}
	return out, nil
}

// Execute runs a write inside the transaction.
func (t *Tx) Execute(query string, args ...any) (int64, error) {
	res := t.conn.Exec(query, args...)
	if res.Error != nil {
		return 0, t.e.classify(res.Error)
	}
	return res.RowsAffected, nil
}

// QueryIn is the transactional variant of Engine.QueryIn.
func (t *Tx) QueryIn(query string, values []any, args ...any) ([]Row, error) {
	if !strings.Contains(query, inMarker) {
		return nil, errcode.New(errcode.InvalidInput, "query has no IN placeholder")
	}
	if len(values) == 0 {
		return nil, nil
	}
	chunk := maxSQLParams - len(args)
	if chunk < 1 {
		chunk = 1
	}
	var out []Row
	for start := 0; start < len(values); start += chunk {
		end := start + chunk
		if end > len(values) {
			end = len(values)
		}
		part := values[start:end]
		expanded := strings.Replace(query, inMarker, "("+placeholders(len(part))+")", 1)
		bound := make([]any, 0, len(part)+len(args))
		bound = append(bound, part...)
		bound = append(bound, args...)
		rows, err := t.Query(expanded, bound...)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// ExecuteIn runs a write with the (?...) marker expanded in chunks, for
// bulk deletes and updates keyed by large value sets.
func (t *Tx) ExecuteIn(query string, values []any, args ...any) error {
	if !strings.Contains(query, inMarker) {
		return errcode.New(errcode.InvalidInput, "query has no IN placeholder")
	}
	if len(values) == 0 {
		return nil
	}
	chunk := maxSQLParams - len(args)
	if chunk < 1 {
		chunk = 1
	}
	for start := 0; start < len(values); start += chunk {
		end := start + chunk
		if end > len(values) {
			end = len(values)
		}
		part := values[start:end]
		expanded := strings.Replace(query, inMarker, "("+placeholders(len(part))+")", 1)
		bound := make([]any, 0, len(part)+len(args))
		bound = append(bound, part...)
		bound = append(bound, args...)
		if _, err := t.Execute(expanded, bound...); err != nil {
			return err
		}
	}
	return nil
}

// Transaction acquires the write connection, begins a transaction in the
// given mode, and commits when fn returns nil. On error the transaction is
// rolled back and the error returned unchanged.
func (e *Engine) Transaction(ctx context.Context, mode TxMode, fn func(tx *Tx) error) error {
	if e.closed.Load() {
		return errcode.New(errcode.ServiceUnavailable, "storage engine closed")
	}
	release, err := e.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.HardTimeout)
	defer cancel()

	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("BEGIN " + string(mode)).Error; err != nil {
			return e.classify(err)
		}
		tx := &Tx{conn: conn, e: e}
		if err := fn(tx); err != nil {
			_ = conn.Exec("ROLLBACK").Error
			return err
		}
		if err := conn.Exec("COMMIT").Error; err != nil {
			_ = conn.Exec("ROLLBACK").Error
			return e.classify(err)
		}
		return nil
	})
}

// ExecuteScript runs a multi-statement SQL script, used for schema work.
func (e *Engine) ExecuteScript(script string) error {
	if e.closed.Load() {
		return errcode.New(errcode.ServiceUnavailable, "storage engine closed")
	}
	release, err := e.acquireWriter(context.Background())
	if err != nil {
		return err
	}
	defer release()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.db.Exec(script).Error; err != nil {
		return e.classify(err)
	}
	return nil
}

// acquireWriter takes the single-writer token, bounded by AcquireTimeout.
func (e *Engine) acquireWriter(ctx context.Context) (func(), error) {
	timer := time.NewTimer(e.cfg.AcquireTimeout)
	defer timer.Stop()
	select {
	case <-e.writer:
		return func() { e.writer <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, errcode.Wrap(errcode.Timeout, "storage writer acquire cancelled", ctx.Err())
	case <-timer.C:
		e.locked.Store(true)
		return nil, errcode.New(errcode.Timeout, "storage writer acquire timed out")
	}
}

// StoreFiles returns the database file plus its WAL/SHM/journal siblings.
func (e *Engine) StoreFiles() []string {
	return []string{
		e.cfg.Path,
		e.cfg.Path + "-wal",
		e.cfg.Path + "-shm",
		e.cfg.Path + "-journal",
	}
}

// Path returns the database file path.
func (e *Engine) Path() string { return e.cfg.Path }

// Reset drains connections, deletes the store files, and reinitializes an
// empty schema. Serialized against every live transaction.
func (e *Engine) Reset() error {
	release, err := e.acquireWriter(context.Background())
	if err != nil {
		return err
	}
	defer release()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetLocked()
}

func (e *Engine) resetLocked() error {
	if e.sqlDB != nil {
		_ = e.sqlDB.Close()
	}
	for _, f := range e.StoreFiles() {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(f), err)
		}
	}
	if err := e.open(); err != nil {
		return err
	}
	e.locked.Store(false)
	e.malformed.Store(false)
	return nil
}

// ReplaceFiles swaps the database file for the one at src and reopens.
// Used by backup restore while the maintenance flag is raised.
func (e *Engine) ReplaceFiles(src string) error {
	release, err := e.acquireWriter(context.Background())
	if err != nil {
		return err
	}
	defer release()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sqlDB != nil {
		_ = e.sqlDB.Close()
	}
	for _, f := range e.StoreFiles() {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(f), err)
		}
	}
	if err := copyFile(src, e.cfg.Path); err != nil {
		return fmt.Errorf("failed to restore database file: %w", err)
	}
	return e.open()
}

// Diagnostics reports engine health counters.
func (e *Engine) Diagnostics() Diagnostics {
	state, _ := e.recoveryState.Load().(string)
	d := Diagnostics{
		Locked:             e.locked.Load(),
		Malformed:          e.malformed.Load(),
		RecoveryState:      state,
		AutoResetAttempts:  e.resetAttempts.Load(),
		AutoResetSuccesses: e.resetSuccesses.Load(),
		AutoResetFailures:  e.resetFailures.Load(),
	}
	e.mu.RLock()
	if e.sqlDB != nil {
		d.ActiveConns = e.sqlDB.Stats().InUse
	}
	e.mu.RUnlock()
	return d
}

// Close tears the engine down. Idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sqlDB != nil {
		return e.sqlDB.Close()
	}
	return nil
}

// classify inspects a database error, flips the matching diagnostic, and
// kicks off self-heal when corruption is detected.
func (e *Engine) classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		e.locked.Store(true)
	case isCorruptionError(msg):
		e.malformed.Store(true)
		e.maybeAutoReset()
	}
	return errcode.Wrap(errcode.DBError, "database operation failed", err)
}

func isCorruptionError(msg string) bool {
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "malformed database schema")
}

// maybeAutoReset schedules one self-heal attempt, spaced by the cooldown.
// Runs in its own goroutine so it serializes against in-flight
// transactions via the writer gate instead of deadlocking on them.
func (e *Engine) maybeAutoReset() {
	if !e.cfg.AutoReset || e.closed.Load() {
		return
	}
	now := time.Now().UnixNano()
	last := e.lastReset.Load()
	if last != 0 && time.Duration(now-last) < e.cfg.AutoResetCooldown {
		return
	}
	if !e.lastReset.CompareAndSwap(last, now) {
		return
	}

	e.resetAttempts.Add(1)
	e.recoveryState.Store("resetting")
	go func() {
		if err := e.Reset(); err != nil {
			e.resetFailures.Add(1)
			e.recoveryState.Store("failed")
			logger.Error("storage auto-reset failed", "error", err)
			return
		}
		e.resetSuccesses.Add(1)
		e.recoveryState.Store("recovered")
		logger.Warn("storage auto-reset completed, index was rebuilt empty")
	}()
}
