package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/search"
)

// parseListParams maps query parameters onto a search request.
func parseListParams(q url.Values) (search.Params, error) {
	p := search.Params{
		Scope:        q.Get("scope"),
		Target:       q.Get("target"),
		RootID:       q.Get("root_id"),
		Query:        q.Get("q"),
		Sort:         q.Get("sort"),
		Limit:        search.DefaultListLimit,
		IncludeTotal: q.Get("include_total") != "0",
	}

	var err error
	if raw := q.Get("limit"); raw != "" {
		if p.Limit, err = strconv.Atoi(raw); err != nil {
			return p, errcode.New(errcode.InvalidInput, "limit must be an integer")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if p.Offset, err = strconv.Atoi(raw); err != nil {
			return p, errcode.New(errcode.InvalidInput, "offset must be an integer")
		}
	}

	f := &p.Filters
	f.Kind = q.Get("kind")
	f.Source = q.Get("source")
	f.ExcludeRoot = q.Get("exclude_root")
	f.WorkflowType = q.Get("workflow_type")
	if raw := q.Get("extensions"); raw != "" {
		f.Extensions = strings.Split(raw, ",")
	}
	if raw := q.Get("has_workflow"); raw != "" {
		b := raw == "1" || strings.EqualFold(raw, "true")
		f.HasWorkflow = &b
	}

	intFields := map[string]*int{
		"min_rating": &f.MinRating,
		"min_width":  &f.MinWidth,
		"max_width":  &f.MaxWidth,
		"min_height": &f.MinHeight,
		"max_height": &f.MaxHeight,
	}
	for name, dst := range intFields {
		if raw := q.Get(name); raw != "" {
			if *dst, err = strconv.Atoi(raw); err != nil {
				return p, errcode.Newf(errcode.InvalidInput, "%s must be an integer", name)
			}
		}
	}
	int64Fields := map[string]*int64{
		"min_size": &f.MinSize,
		"max_size": &f.MaxSize,
	}
	for name, dst := range int64Fields {
		if raw := q.Get(name); raw != "" {
			if *dst, err = strconv.ParseInt(raw, 10, 64); err != nil {
				return p, errcode.Newf(errcode.InvalidInput, "%s must be an integer", name)
			}
		}
	}
	floatFields := map[string]*float64{
		"mtime_start": &f.MtimeStart,
		"mtime_end":   &f.MtimeEnd,
	}
	for name, dst := range floatFields {
		if raw := q.Get(name); raw != "" {
			if *dst, err = strconv.ParseFloat(raw, 64); err != nil {
				return p, errcode.Newf(errcode.InvalidInput, "%s must be a number", name)
			}
		}
	}
	return p, nil
}

// checkBrowserScope confines browser listings to local clients. The
// browser scope walks arbitrary custom roots with folder rows, which is
// a desktop affordance, not a remote API.
func (s *Server) checkBrowserScope(r *http.Request, scope string) error {
	if scope != search.ScopeBrowser {
		return nil
	}
	if s.guard == nil || !s.guard.IsLoopback(r) {
		return errcode.New(errcode.Forbidden, "browser scope is available to local clients only")
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	p, err := parseListParams(r.URL.Query())
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.checkBrowserScope(r, p.Scope); err != nil {
		writeErr(w, err)
		return
	}
	res, err := s.searcher.List(r.Context(), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, res)
}

// handleSearch is /list with search defaults: full text across all
// indexed scopes unless narrowed.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	p, err := parseListParams(r.URL.Query())
	if err != nil {
		writeErr(w, err)
		return
	}
	if r.URL.Query().Get("scope") == "" {
		p.Scope = search.ScopeAll
	}
	if err := s.checkBrowserScope(r, p.Scope); err != nil {
		writeErr(w, err)
		return
	}
	res, err := s.searcher.List(r.Context(), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, res)
}

func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	out, err := s.searcher.Autocomplete(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, out)
}

// handleTagVocabulary returns the distinct tag vocabulary.
func (s *Server) handleTagVocabulary(w http.ResponseWriter, r *http.Request) {
	rows, err := s.engine.Query(r.Context(),
		`SELECT tags FROM asset_metadata WHERE tags != '[]'`)
	if err != nil {
		writeErr(w, err)
		return
	}
	seen := make(map[string]string)
	for _, row := range rows {
		for _, tag := range decodeTags(row.String("tags")) {
			key := strings.ToLower(tag)
			if _, ok := seen[key]; !ok {
				seen[key] = tag
			}
		}
	}
	out := make([]string, 0, len(seen))
	for _, tag := range seen {
		out = append(out, tag)
	}
	writeOK(w, map[string]any{"tags": out, "count": len(out)})
}
