package search

import (
	"encoding/json"
	"strings"

	"github.com/majoor-app/majoor/pkg/storage"
)

// Item is one listing row, either hydrated from the index or synthesized
// from a filesystem walk.
type Item struct {
	ID           int64    `json:"id,omitempty"`
	Filepath     string   `json:"filepath"`
	Filename     string   `json:"filename"`
	Subfolder    string   `json:"subfolder"`
	Source       string   `json:"source"`
	RootID       string   `json:"root_id,omitempty"`
	Kind         string   `json:"kind"`
	Ext          string   `json:"ext"`
	SizeBytes    int64    `json:"size_bytes"`
	Mtime        float64  `json:"mtime"`
	Width        *int     `json:"width,omitempty"`
	Height       *int     `json:"height,omitempty"`
	Duration     *float64 `json:"duration,omitempty"`
	Rating       int      `json:"rating"`
	Tags         []string `json:"tags"`
	HasWorkflow  bool     `json:"has_workflow"`
	Quality      string   `json:"metadata_quality,omitempty"`
	Indexed      bool     `json:"indexed"`
}

// KindFolder marks synthetic directory rows in browser scope.
const KindFolder = "folder"

// itemFromRow builds an Item from the joined asset/metadata columns.
func itemFromRow(r storage.Row) Item {
	it := Item{
		ID:        r.Int64("id"),
		Filepath:  r.String("filepath"),
		Filename:  r.String("filename"),
		Subfolder: r.String("subfolder"),
		Source:    r.String("source"),
		RootID:    r.String("root_id"),
		Kind:      r.String("kind"),
		Ext:       r.String("ext"),
		SizeBytes: r.Int64("size_bytes"),
		Mtime:     r.Float("mtime"),
		Rating:    int(r.Int64("rating")),
		Quality:   r.String("metadata_quality"),
		Indexed:   true,
		Tags:      []string{},
	}
	if v, ok := r["width"]; ok && v != nil {
		w := int(r.Int64("width"))
		it.Width = &w
	}
	if v, ok := r["height"]; ok && v != nil {
		h := int(r.Int64("height"))
		it.Height = &h
	}
	if v, ok := r["duration"]; ok && v != nil {
		d := r.Float("duration")
		it.Duration = &d
	}
	it.HasWorkflow = r.Bool("has_workflow")
	if raw := r.String("tags"); raw != "" && raw != "[]" {
		var tags []string
		if json.Unmarshal([]byte(raw), &tags) == nil {
			it.Tags = tags
		}
	}
	return it
}

// Result is one listing page.
type Result struct {
	Assets []Item `json:"assets"`
	Total  int    `json:"total"`
	Scope  string `json:"scope"`
}

// dedupeByPath removes case-normalized filepath duplicates in place,
// preserving order.
func dedupeByPath(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, it := range items {
		key := strings.ToLower(it.Filepath)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

// less is the shared sort comparator for filesystem rows and merge. It
// matches the SQL ORDER BY contracts exactly.
func less(sort string, a, b Item) bool {
	switch sort {
	case SortMtimeAsc:
		if a.Mtime != b.Mtime {
			return a.Mtime < b.Mtime
		}
		return a.Filepath < b.Filepath
	case SortNameAsc, SortNameDesc:
		an, bn := strings.ToLower(a.Filename), strings.ToLower(b.Filename)
		if an != bn {
			if sort == SortNameDesc {
				return an > bn
			}
			return an < bn
		}
		if sort == SortNameDesc {
			return a.Filepath > b.Filepath
		}
		return a.Filepath < b.Filepath
	case SortNone:
		return false
	default: // mtime_desc
		if a.Mtime != b.Mtime {
			return a.Mtime > b.Mtime
		}
		return a.Filepath > b.Filepath
	}
}
