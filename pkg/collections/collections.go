// Package collections persists named groups of assets as one JSON file
// per collection under the index directory. Files are the source of
// truth; asset ids are hydrated from the index on read so a collection
// survives rescans and database resets.
package collections

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/storage"
)

const (
	dirName        = "collections"
	maxNameLength  = 120
	maxMemberPaths = 10000
)

// Collection is one saved group. Filepaths are canonical absolute paths;
// AssetIDs is filled on read and omitted from the stored file.
type Collection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Filepaths []string  `json:"filepaths"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AssetIDs []int64 `json:"asset_ids,omitempty"`
}

// Store reads and writes collection files.
type Store struct {
	mu       sync.Mutex
	indexDir func() string
	engine   *storage.Engine
}

// NewStore creates a store rooted at indexDir()/collections.
func NewStore(indexDir func() string, engine *storage.Engine) *Store {
	return &Store{indexDir: indexDir, engine: engine}
}

func (s *Store) dir() string {
	return filepath.Join(s.indexDir(), dirName)
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir(), id+".json")
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// List returns all collections sorted by name, without member hydration.
func (s *Store) List() ([]Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir())
	if errors.Is(err, os.ErrNotExist) {
		return []Collection{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := []Collection{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		c, err := s.readFile(filepath.Join(s.dir(), entry.Name()))
		if err != nil {
			logger.Warn("skipping unreadable collection file", "file", entry.Name(), "error", err)
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns one collection with asset ids hydrated from the index.
// Filepaths that are not indexed stay in the collection but contribute no
// id.
func (s *Store) Get(ctx context.Context, id string) (*Collection, error) {
	if !validID(id) {
		return nil, errcode.New(errcode.InvalidInput, "invalid collection id")
	}
	s.mu.Lock()
	c, err := s.readFile(s.pathFor(id))
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, errcode.New(errcode.NotFound, "collection not found")
	}
	if err != nil {
		return nil, err
	}

	if len(c.Filepaths) > 0 && s.engine != nil {
		vals := make([]any, len(c.Filepaths))
		for i, p := range c.Filepaths {
			vals[i] = p
		}
		rows, err := s.engine.QueryIn(ctx,
			`SELECT id FROM assets WHERE filepath IN (?...) ORDER BY id`, vals)
		if err != nil {
			return nil, err
		}
		c.AssetIDs = make([]int64, 0, len(rows))
		for _, row := range rows {
			c.AssetIDs = append(c.AssetIDs, row.Int64("id"))
		}
	}
	return &c, nil
}

// Save creates or updates a collection. An empty ID creates a new one.
func (s *Store) Save(c Collection) (*Collection, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" || len(c.Name) > maxNameLength {
		return nil, errcode.Newf(errcode.InvalidInput, "collection name must be 1-%d characters", maxNameLength)
	}
	if len(c.Filepaths) > maxMemberPaths {
		return nil, errcode.Newf(errcode.InvalidInput, "collection exceeds %d members", maxMemberPaths)
	}
	for _, p := range c.Filepaths {
		if p == "" || strings.ContainsRune(p, 0) {
			return nil, errcode.New(errcode.InvalidInput, "invalid member filepath")
		}
	}
	c.Filepaths = dedupePaths(c.Filepaths)
	c.AssetIDs = nil

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = now
	} else {
		if !validID(c.ID) {
			return nil, errcode.New(errcode.InvalidInput, "invalid collection id")
		}
		prev, err := s.readFile(s.pathFor(c.ID))
		if errors.Is(err, os.ErrNotExist) {
			return nil, errcode.New(errcode.NotFound, "collection not found")
		}
		if err != nil {
			return nil, err
		}
		c.CreatedAt = prev.CreatedAt
	}
	c.UpdatedAt = now

	if err := s.writeFile(c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Remove deletes a collection file. Removing a missing id is not an
// error.
func (s *Store) Remove(id string) error {
	if !validID(id) {
		return errcode.New(errcode.InvalidInput, "invalid collection id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathFor(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) readFile(path string) (Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Collection{}, err
	}
	var c Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return Collection{}, err
	}
	c.AssetIDs = nil
	return c, nil
}

// writeFile persists atomically: temp sibling, fsync, rename.
func (s *Store) writeFile(c Collection) error {
	target := s.pathFor(c.ID)
	if err := os.MkdirAll(s.dir(), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir(), c.ID+".tmp-*")
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

func dedupePaths(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
