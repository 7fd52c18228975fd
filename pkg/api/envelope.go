// Package api serves the /mjr/am HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/errcode"
)

// Response is the uniform envelope returned by every endpoint. Business
// errors ride an HTTP 200; non-200 statuses are reserved for
// infrastructure failures.
type Response struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
	Code  string         `json:"code,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Debug("response encode failed", "error", err)
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{OK: true, Data: data})
}

func writeOKMeta(w http.ResponseWriter, data any, meta map[string]any) {
	writeJSON(w, http.StatusOK, Response{OK: true, Data: data, Meta: meta})
}

func writeErr(w http.ResponseWriter, err error) {
	code := errcode.CodeOf(err)
	resp := Response{
		OK:    false,
		Error: errcode.MessageOf(err),
		Code:  string(code),
	}
	if meta := errcode.MetaOf(err); len(meta) > 0 {
		resp.Meta = meta
		if retry, ok := meta["retry_after"]; ok {
			if n, ok := retry.(int); ok {
				w.Header().Set("Retry-After", strconv.Itoa(n))
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeJSON reads a bounded JSON body into dst.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, s.cfg.Server.MaxJSONBody)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errcode.New(errcode.InvalidJSON, "request body too large")
		}
		return errcode.Wrap(errcode.InvalidJSON, "malformed JSON body", err)
	}
	return nil
}
