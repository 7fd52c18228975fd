package search

import (
	"context"
	"encoding/json"
	"strings"
)

// maxAutocomplete bounds completion responses regardless of the request.
const maxAutocomplete = 50

// Autocomplete returns prefix completions for q, tags first, then
// filenames.
func (e *Engine) Autocomplete(ctx context.Context, q string, limit int) ([]string, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return []string{}, nil
	}
	if limit <= 0 || limit > maxAutocomplete {
		limit = maxAutocomplete
	}
	if e.pause != nil {
		e.pause.Touch()
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, limit)
	add := func(s string) bool {
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			return len(out) < limit
		}
		seen[key] = struct{}{}
		out = append(out, s)
		return len(out) < limit
	}

	// Tag vocabulary first. Tags are stored as JSON arrays, so rows are
	// pre-filtered with LIKE and the decoded tags prefix-checked.
	rows, err := e.db.Query(ctx,
		`SELECT DISTINCT tags FROM asset_metadata WHERE tags != '[]' AND LOWER(tags) LIKE ? LIMIT 200`,
		"%"+q+"%")
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		var tags []string
		if json.Unmarshal([]byte(r.String("tags")), &tags) != nil {
			continue
		}
		for _, tag := range tags {
			if strings.HasPrefix(strings.ToLower(tag), q) && !add(tag) {
				return out, nil
			}
		}
	}

	rows, err = e.db.Query(ctx,
		`SELECT DISTINCT filename FROM assets WHERE LOWER(filename) LIKE ? ORDER BY filename LIMIT ?`,
		q+"%", limit)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if !add(r.String("filename")) {
			break
		}
	}
	return out, nil
}
