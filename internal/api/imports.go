package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"media-vault/internal/catalog"
	"media-vault/internal/database"
)

func (s *Server) createBatches(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Batches []catalog.BatchSpec `json:"batches"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}

	ids, err := s.catalog.CreateImportBatches(r.Context(), request.Batches)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string][]string{"ids": ids})
}

func (s *Server) deleteBatches(w http.ResponseWriter, r *http.Request) {
	var request struct {
		IDs []string `json:"ids"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}
	if len(request.IDs) == 0 {
		writeJSONError(w, "no batch ids given", http.StatusBadRequest)
		return
	}

	if err := s.catalog.DeleteImportBatches(r.Context(), request.IDs); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.catalog.GetBatchStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "batch not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, status)
}

func (s *Server) startBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	started, err := s.catalog.StartImportBatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "batch not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, database.ErrAlreadyStarted) {
			writeJSONError(w, "batch already started", http.StatusConflict)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"startedAt": started.Format(time.RFC3339)})
}

func (s *Server) completeBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var request struct {
		CollectionID int64   `json:"collectionId"`
		FileIDs      []int64 `json:"fileIds"`
		TagIDs       []int64 `json:"tagIds"`
	}
	if !decodeJSON(w, r, &request) {
		return
	}

	completed, err := s.catalog.CompleteImportBatch(r.Context(), id, request.CollectionID, request.FileIDs, request.TagIDs)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"completedAt": completed.Format(time.RFC3339)})
}

func (s *Server) cancelBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.catalog.CancelImportBatch(id) {
		writeJSONError(w, "batch is not in flight", http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelling"})
}
