package search

import (
	"strings"

	"github.com/majoor-app/majoor/pkg/errcode"
)

// Listing bounds. Offsets beyond MaxListOffset are an input error rather
// than a silent clamp, so deep-paging clients fail loudly.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
	MaxListOffset    = 100000
)

// Scope names.
const (
	ScopeOutput  = "output"
	ScopeInput   = "input"
	ScopeAll     = "all"
	ScopeCustom  = "custom"
	ScopeBrowser = "browser"
)

// Sort names.
const (
	SortMtimeDesc = "mtime_desc"
	SortMtimeAsc  = "mtime_asc"
	SortNameAsc   = "name_asc"
	SortNameDesc  = "name_desc"
	SortNone      = "none"
)

// Filters is the shared filter vocabulary of the index and filesystem
// paths. Zero values mean "not set"; pointer fields distinguish false
// from unset.
type Filters struct {
	Kind         string
	Extensions   []string // lowercase, no dot
	MinRating    int
	MinSize      int64
	MaxSize      int64
	MinWidth     int
	MaxWidth     int
	MinHeight    int
	MaxHeight    int
	HasWorkflow  *bool
	WorkflowType string
	MtimeStart   float64
	MtimeEnd     float64
	Source       string
	ExcludeRoot  string
}

// normalizeRanges applies max := min whenever both bounds are set
// inverted.
func (f *Filters) normalizeRanges() {
	if f.MinSize > 0 && f.MaxSize > 0 && f.MaxSize < f.MinSize {
		f.MaxSize = f.MinSize
	}
	if f.MinWidth > 0 && f.MaxWidth > 0 && f.MaxWidth < f.MinWidth {
		f.MaxWidth = f.MinWidth
	}
	if f.MinHeight > 0 && f.MaxHeight > 0 && f.MaxHeight < f.MinHeight {
		f.MaxHeight = f.MinHeight
	}
	if f.MtimeStart > 0 && f.MtimeEnd > 0 && f.MtimeEnd < f.MtimeStart {
		f.MtimeEnd = f.MtimeStart
	}
}

// Params is one listing/search request.
type Params struct {
	Scope        string
	Target       string // subfolder within the scope's base
	RootID       string // custom scope
	Query        string
	Filters      Filters
	Sort         string
	Limit        int
	Offset       int
	IncludeTotal bool
}

// Normalize validates and clamps the request in place.
func (p *Params) Normalize() error {
	switch p.Scope {
	case "":
		p.Scope = ScopeOutput
	case ScopeOutput, ScopeInput, ScopeAll, ScopeCustom, ScopeBrowser:
	default:
		return errcode.Newf(errcode.InvalidInput, "unknown scope %q", p.Scope)
	}

	switch p.Sort {
	case "":
		p.Sort = SortMtimeDesc
	case SortMtimeDesc, SortMtimeAsc, SortNameAsc, SortNameDesc, SortNone:
	default:
		return errcode.Newf(errcode.InvalidInput, "unknown sort %q", p.Sort)
	}

	if p.Limit < 0 {
		return errcode.New(errcode.InvalidInput, "limit must be non-negative")
	}
	if p.Limit == 0 {
		// limit=0 is a valid "count only" request and keeps zero.
	} else if p.Limit > MaxListLimit {
		p.Limit = MaxListLimit
	}
	if p.Offset < 0 {
		return errcode.New(errcode.InvalidInput, "offset must be non-negative")
	}
	if p.Offset > MaxListOffset {
		return errcode.Newf(errcode.InvalidInput, "offset exceeds %d", MaxListOffset)
	}

	if p.Scope == ScopeCustom && p.RootID == "" {
		return errcode.New(errcode.InvalidInput, "custom scope requires root_id")
	}

	for i, ext := range p.Filters.Extensions {
		p.Filters.Extensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	p.Filters.normalizeRanges()
	return nil
}
