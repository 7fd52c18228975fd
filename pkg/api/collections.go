package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/majoor-app/majoor/pkg/collections"
	"github.com/majoor-app/majoor/pkg/errcode"
)

func (s *Server) handleCollectionsList(w http.ResponseWriter, r *http.Request) {
	list, err := s.colls.List()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"collections": list, "count": len(list)})
}

func (s *Server) handleCollectionGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.colls.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, c)
}

type collectionSaveRequest struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Filepaths []string `json:"filepaths"`
}

func (s *Server) handleCollectionSave(w http.ResponseWriter, r *http.Request) {
	var req collectionSaveRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	saved, err := s.colls.Save(collections.Collection{
		ID:        req.ID,
		Name:      req.Name,
		Filepaths: req.Filepaths,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, saved)
}

type collectionRemoveRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleCollectionRemove(w http.ResponseWriter, r *http.Request) {
	var req collectionRemoveRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.ID == "" {
		writeErr(w, errcode.New(errcode.InvalidInput, "id is required"))
		return
	}
	if err := s.colls.Remove(req.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"removed": req.ID})
}
