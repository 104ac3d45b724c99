package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"media-vault/internal/database"
)

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, "invalid file id", http.StatusBadRequest)
		return
	}

	record, err := s.catalog.GetFileByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "file not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, record)
}

func (s *Server) getFileByHash(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	record, err := s.catalog.GetFileByHash(r.Context(), hash)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "file not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, record)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, "invalid file id", http.StatusBadRequest)
		return
	}
	// rememberHash defaults to true so deleted content stays deleted across
	// future imports unless the caller opts out.
	rememberHash := r.URL.Query().Get("rememberHash") != "false"

	if err := s.catalog.DeleteFile(r.Context(), id, rememberHash); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "file not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Title string `json:"title"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}
	if request.Title == "" {
		writeJSONError(w, "title must not be empty", http.StatusBadRequest)
		return
	}

	id, err := s.catalog.CreateCollection(r.Context(), request.Title)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]int64{"id": id})
}
