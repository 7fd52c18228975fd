package search

import (
	"strconv"
	"strings"
)

// parsedQuery splits a raw query string into free-text terms and consumed
// inline filters.
type parsedQuery struct {
	Terms []string
}

// parseQuery consumes key:value tokens (kind, ext, rating, has_workflow,
// workflow_type) into the filter set and returns the remaining text terms.
// Unknown keys stay literal text so searching for "re:zero" still works.
func parseQuery(raw string, f *Filters) parsedQuery {
	var pq parsedQuery
	for _, tok := range strings.Fields(raw) {
		key, val, ok := strings.Cut(tok, ":")
		if !ok || val == "" {
			pq.Terms = append(pq.Terms, tok)
			continue
		}
		switch strings.ToLower(key) {
		case "kind":
			f.Kind = strings.ToLower(val)
		case "ext":
			f.Extensions = append(f.Extensions, strings.ToLower(strings.TrimPrefix(val, ".")))
		case "rating":
			if n, err := strconv.Atoi(val); err == nil {
				f.MinRating = n
			} else {
				pq.Terms = append(pq.Terms, tok)
			}
		case "has_workflow":
			b := val == "1" || strings.EqualFold(val, "true") || strings.EqualFold(val, "yes")
			f.HasWorkflow = &b
		case "workflow_type":
			f.WorkflowType = strings.ToLower(val)
		default:
			pq.Terms = append(pq.Terms, tok)
		}
	}
	return pq
}

// ftsMatchExpr builds the MATCH expression for the free-text terms. Each
// term becomes a quoted prefix token; terms AND together.
func ftsMatchExpr(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, `""`)
		parts = append(parts, `"`+t+`"*`)
	}
	return strings.Join(parts, " ")
}
