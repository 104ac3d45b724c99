package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"media-vault/internal/catalog"
	"media-vault/internal/database"
)

func tagID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.catalog.ListTags(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"tags": tags})
}

func (s *Server) getTag(w http.ResponseWriter, r *http.Request) {
	id, err := tagID(r)
	if err != nil {
		writeJSONError(w, "invalid tag id", http.StatusBadRequest)
		return
	}

	tag, err := s.catalog.GetTag(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "tag not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	parents, children := s.catalog.TagNeighbors(id)
	writeJSON(w, map[string]interface{}{
		"tag":      tag,
		"parents":  parents,
		"children": children,
	})
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var spec catalog.TagSpec
	if !decodeJSON(w, r, &spec) {
		return
	}

	tag, results, err := s.catalog.CreateTag(r.Context(), spec)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateLabel) {
			writeJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]interface{}{
		"tag":       tag,
		"relations": results,
	})
}

func (s *Server) editTag(w http.ResponseWriter, r *http.Request) {
	id, err := tagID(r)
	if err != nil {
		writeJSONError(w, "invalid tag id", http.StatusBadRequest)
		return
	}

	var request struct {
		catalog.TagEdit
		Relations []catalog.RelationEdit `json:"relations"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}

	tag, results, err := s.catalog.EditTag(r.Context(), id, request.TagEdit, request.Relations)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "tag not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"tag":       tag,
		"relations": results,
	})
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := tagID(r)
	if err != nil {
		writeJSONError(w, "invalid tag id", http.StatusBadRequest)
		return
	}

	if err := s.catalog.DeleteTag(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "tag not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) mergeTags(w http.ResponseWriter, r *http.Request) {
	var request struct {
		KeepID  int64 `json:"keepId"`
		MergeID int64 `json:"mergeId"`
		catalog.MergeSpec
	}
	if !decodeJSON(w, r, &request) {
		return
	}

	tag, err := s.catalog.MergeTags(r.Context(), request.KeepID, request.MergeID, request.MergeSpec)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, tag)
}

func (s *Server) recountTags(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.RecalculateTagCounts(r.Context()); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) regenAncestors(w http.ResponseWriter, r *http.Request) {
	var request struct {
		TagIDs []int64 `json:"tagIds"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}

	if err := s.catalog.RegenTagAncestors(r.Context(), request.TagIDs); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
