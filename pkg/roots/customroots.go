package roots

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/errcode"
)

// customRootsFile is the JSON file under the index directory.
const customRootsFile = "custom_roots.json"

// CustomRoot is a user-registered directory outside the built-in roots.
type CustomRoot struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AddResult is the outcome of AddCustomRoot. AlreadyExists is set when the
// canonical path matched an existing entry.
type AddResult struct {
	Root          CustomRoot `json:"root"`
	AlreadyExists bool       `json:"already_exists"`
}

func (r *Registry) customRootsPath() string {
	return filepath.Join(r.IndexDir(), customRootsFile)
}

func (r *Registry) loadCustomRoots() error {
	data, err := os.ReadFile(r.customRootsPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var roots []CustomRoot
	if err := json.Unmarshal(data, &roots); err != nil {
		// A corrupt file must not take the whole server down; start
		// empty and let the next save replace it.
		logger.Warn("custom roots file is corrupt, starting empty", "error", err)
		return nil
	}
	r.custom = roots
	return nil
}

// saveCustomRootsLocked persists the list atomically: write to a temp
// sibling, fsync, then rename over the target. Caller holds r.mu.
func (r *Registry) saveCustomRootsLocked() error {
	target := r.customRootsPath()
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r.custom, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), customRootsFile+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// CustomRoots returns a copy of the registered custom roots.
func (r *Registry) CustomRoots() []CustomRoot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CustomRoot, len(r.custom))
	copy(out, r.custom)
	return out
}

// ResolveCustomRoot returns the directory for a custom root id.
func (r *Registry) ResolveCustomRoot(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cr := range r.custom {
		if cr.ID == id {
			return cr.Path, nil
		}
	}
	return "", errcode.New(errcode.NotFound, "custom root not found")
}

// AddCustomRoot validates and registers a directory as a custom root.
// Re-adding a path that already resolves to a registered root returns the
// existing row with AlreadyExists set.
func (r *Registry) AddCustomRoot(path, label string) (AddResult, error) {
	if path == "" {
		return AddResult{}, errcode.New(errcode.InvalidInput, "path is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return AddResult{}, errcode.New(errcode.InvalidInput, "invalid path")
	}

	st, err := os.Lstat(abs)
	if err != nil {
		return AddResult{}, errcode.New(errcode.NotFound, "directory does not exist")
	}
	if st.Mode()&os.ModeSymlink != 0 && !r.cfg.AllowSymlinkRoots {
		return AddResult{}, errcode.New(errcode.InvalidInput, "symlinked roots are not allowed")
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return AddResult{}, errcode.New(errcode.NotFound, "directory does not exist")
	}
	info, err := os.Stat(canonical)
	if err != nil || !info.IsDir() {
		return AddResult{}, errcode.New(errcode.InvalidInput, "path is not a directory")
	}
	canonical = NormalizeCase(canonical)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cr := range r.custom {
		if NormalizeCase(cr.Path) == canonical {
			return AddResult{Root: cr, AlreadyExists: true}, nil
		}
	}

	if len(r.custom) >= r.cfg.MaxCustomRoots {
		return AddResult{}, errcode.New(errcode.InvalidInput, "custom root limit reached")
	}

	// No root may contain or be contained by another, built-ins included.
	out, in := r.AllowedDirectories("")
	for _, base := range []string{out, in} {
		if base != "" && overlaps(canonical, base) {
			return AddResult{}, errcode.New(errcode.Conflict, "path overlaps a built-in root")
		}
	}
	for _, cr := range r.custom {
		if overlaps(canonical, cr.Path) {
			return AddResult{}, errcode.New(errcode.Conflict, "path overlaps an existing custom root")
		}
	}

	root := CustomRoot{
		ID:        uuid.NewString(),
		Path:      canonical,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}
	r.custom = append(r.custom, root)
	if err := r.saveCustomRootsLocked(); err != nil {
		r.custom = r.custom[:len(r.custom)-1]
		return AddResult{}, errcode.Wrap(errcode.UpdateFailed, "failed to persist custom roots", err)
	}
	return AddResult{Root: root}, nil
}

// RemoveCustomRoot unregisters a custom root by id.
func (r *Registry) RemoveCustomRoot(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cr := range r.custom {
		if cr.ID == id {
			r.custom = append(r.custom[:i], r.custom[i+1:]...)
			if err := r.saveCustomRootsLocked(); err != nil {
				return errcode.Wrap(errcode.UpdateFailed, "failed to persist custom roots", err)
			}
			return nil
		}
	}
	return errcode.New(errcode.NotFound, "custom root not found")
}

// overlaps reports whether either path is an ancestor of the other.
func overlaps(a, b string) bool {
	return isWithin(a, b) || isWithin(b, a)
}
