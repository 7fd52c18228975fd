package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently so
// that scans, watcher flushes, and HTTP requests can be correlated when
// aggregating logs.
const (
	// Asset identification
	KeyPath      = "path"      // absolute filepath
	KeyFilename  = "filename"  // basename
	KeySubfolder = "subfolder" // root-relative folder
	KeyAssetID   = "asset_id"  // index row id
	KeySource    = "source"    // output, input, custom
	KeyRootID    = "root_id"   // custom root id
	KeyKind      = "kind"      // image, video, audio, model3d

	// Scanning
	KeyScanRoot  = "scan_root"
	KeyScanned   = "scanned"
	KeyAdded     = "added"
	KeyUpdated   = "updated"
	KeySkipped   = "skipped"
	KeyErrors    = "errors"
	KeyBatchSize = "batch_size"
	KeyQueueLen  = "queue_len"

	// Watcher
	KeyEvent   = "event"
	KeyPending = "pending"
	KeyFlushed = "flushed"

	// HTTP / security
	KeyRequestID = "request_id"
	KeyClientIP  = "client_ip"
	KeyEndpoint  = "endpoint"
	KeyScope     = "scope"

	// Storage
	KeyRows       = "rows"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyCode       = "code"
)

// Err returns a slog.Attr for an error, or the empty attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Path returns a slog.Attr for an absolute filepath.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// AssetID returns a slog.Attr for an index row id.
func AssetID(id int64) slog.Attr {
	return slog.Int64(KeyAssetID, id)
}

// Scope returns a slog.Attr for a listing scope.
func Scope(s string) slog.Attr {
	return slog.String(KeyScope, s)
}

// ClientIP returns a slog.Attr for the resolved client address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
