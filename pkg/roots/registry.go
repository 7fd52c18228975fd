// Package roots resolves the base directories assets may live under and
// enforces path confinement for every filesystem-serving operation.
//
// Three classes of roots exist: the output root (ground truth for the
// generation pipeline), the input root, and user-registered custom roots
// persisted as JSON next to the index. Every handler that touches the
// filesystem resolves its target through this package first.
package roots

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/majoor-app/majoor/pkg/errcode"
)

// Environment variables honored for the output root, in priority order.
var outputEnvVars = []string{"MAJOOR_OUTPUT_DIRECTORY", "MJR_AM_OUTPUT_DIRECTORY"}

// IndexDirName is the directory under the output root that holds the
// database, custom roots file, collections, and backups.
const IndexDirName = "_mjr_index"

// Config controls the registry.
type Config struct {
	// InputRoot is the secondary scanned directory. Optional.
	InputRoot string

	// OverrideFn returns the persisted output-directory override from
	// the settings store, or "" when unset.
	OverrideFn func() string

	// AllowSymlinkRoots permits registering a custom root that is itself
	// a symlink.
	AllowSymlinkRoots bool

	// MaxCustomRoots caps the custom root list. Default 64.
	MaxCustomRoots int
}

// Registry resolves and caches the allowed base directories.
type Registry struct {
	cfg Config

	mu     sync.RWMutex
	custom []CustomRoot
}

// NewRegistry creates a registry and loads any persisted custom roots.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.MaxCustomRoots <= 0 {
		cfg.MaxCustomRoots = 64
	}
	r := &Registry{cfg: cfg}
	if err := r.loadCustomRoots(); err != nil {
		return nil, err
	}
	return r, nil
}

// OutputRoot resolves the output root. Priority: per-request override,
// persisted setting, environment, parent of the executable, working
// directory.
func (r *Registry) OutputRoot(requestOverride string) string {
	if requestOverride != "" {
		if abs, err := filepath.Abs(requestOverride); err == nil {
			return abs
		}
	}
	if r.cfg.OverrideFn != nil {
		if v := r.cfg.OverrideFn(); v != "" {
			if abs, err := filepath.Abs(v); err == nil {
				return abs
			}
		}
	}
	for _, key := range outputEnvVars {
		if v := os.Getenv(key); v != "" {
			if abs, err := filepath.Abs(v); err == nil {
				return abs
			}
		}
	}
	if exe, err := os.Executable(); err == nil {
		parent := filepath.Dir(filepath.Dir(exe))
		if st, err := os.Stat(filepath.Join(parent, "output")); err == nil && st.IsDir() {
			return filepath.Join(parent, "output")
		}
	}
	wd, _ := os.Getwd()
	return wd
}

// InputRoot returns the configured input root, or "".
func (r *Registry) InputRoot() string {
	if r.cfg.InputRoot == "" {
		return ""
	}
	abs, err := filepath.Abs(r.cfg.InputRoot)
	if err != nil {
		return ""
	}
	return abs
}

// AllowedDirectories returns the current {output, input} pair. Input may
// be empty.
func (r *Registry) AllowedDirectories(requestOverride string) (string, string) {
	return r.OutputRoot(requestOverride), r.InputRoot()
}

// IndexDir returns the directory that holds persistent state for the
// current output root.
func (r *Registry) IndexDir() string {
	return filepath.Join(r.OutputRoot(""), IndexDirName)
}

// IsPathAllowed reports whether p resolves strictly under the output or
// input root. Symlinks are resolved before the containment check.
func (r *Registry) IsPathAllowed(p string, mustExist bool) bool {
	resolved, err := resolvePath(p, mustExist)
	if err != nil {
		return false
	}
	out, in := r.AllowedDirectories("")
	if isWithin(resolved, out) {
		return true
	}
	return in != "" && isWithin(resolved, in)
}

// IsPathAllowedCustom reports whether p resolves under a registered custom
// root, returning its id.
func (r *Registry) IsPathAllowedCustom(p string) (string, bool) {
	resolved, err := resolvePath(p, false)
	if err != nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cr := range r.custom {
		if isWithin(resolved, cr.Path) {
			return cr.ID, true
		}
	}
	return "", false
}

// Classify determines which root p belongs to, for resolve-or-create
// writes addressed by filepath. Returns source, root id (custom only),
// and the base directory.
func (r *Registry) Classify(p string) (source, rootID, base string, err error) {
	resolved, rerr := resolvePath(p, false)
	if rerr != nil {
		return "", "", "", errcode.New(errcode.InvalidInput, "invalid path")
	}
	out, in := r.AllowedDirectories("")
	if isWithin(resolved, out) {
		return "output", "", out, nil
	}
	if in != "" && isWithin(resolved, in) {
		return "input", "", in, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cr := range r.custom {
		if isWithin(resolved, cr.Path) {
			return "custom", cr.ID, cr.Path, nil
		}
	}
	return "", "", "", errcode.New(errcode.Forbidden, "path is outside all allowed roots")
}

// resolvePath canonicalizes p, following symlinks when the target exists.
// With mustExist the path has to stat; otherwise the deepest existing
// ancestor is resolved and the remainder re-appended, so confinement holds
// for not-yet-created targets too.
func resolvePath(p string, mustExist bool) (string, error) {
	if p == "" || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("invalid path")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return NormalizeCase(resolved), nil
	}
	if mustExist {
		return "", err
	}
	// Resolve the deepest existing ancestor instead.
	dir := abs
	var tail []string
	for {
		parent := filepath.Dir(dir)
		tail = append([]string{filepath.Base(dir)}, tail...)
		if parent == dir {
			break
		}
		dir = parent
		if res, err := filepath.EvalSymlinks(dir); err == nil {
			return NormalizeCase(filepath.Join(append([]string{res}, tail...)...)), nil
		}
	}
	return NormalizeCase(abs), nil
}

// isWithin reports whether path equals base or is a descendant of it.
func isWithin(path, base string) bool {
	if base == "" {
		return false
	}
	base = NormalizeCase(filepath.Clean(base))
	path = NormalizeCase(filepath.Clean(path))
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}

// caseInsensitiveFS reports whether filepath keys must be case-normalized
// on this host.
func caseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// NormalizeCase lowercases a path on case-insensitive hosts so it can be
// used as a canonical key. On Linux paths pass through unchanged.
func NormalizeCase(p string) string {
	if caseInsensitiveFS() {
		return strings.ToLower(p)
	}
	return p
}
