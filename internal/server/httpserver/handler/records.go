package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/storage/docstore"
)

// PutRecordsResponse is the response body for PUT /admin/v1/records/{class}.
type PutRecordsResponse struct {
	Class  domain.ClassName `json:"class"`
	Stored int              `json:"stored"`
}

// CountRecordsResponse is the response body for GET /admin/v1/records/{class}.
type CountRecordsResponse struct {
	Class domain.ClassName `json:"class"`
	Count int              `json:"count"`
}

func (h *Handler) pathClass(r *http.Request) (domain.ClassName, error) {
	class := domain.ClassName(r.PathValue("class"))
	if !class.Valid() {
		return "", domain.ErrUnknownClass.WithDetails(string(class))
	}
	return class, nil
}

// handlePutRecords handles PUT /admin/v1/records/{class}. The body is a JSON
// array of records; the whole batch is rejected if one record is invalid.
func (h *Handler) handlePutRecords(w http.ResponseWriter, r *http.Request) {
	class, err := h.pathClass(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var recs []domain.Record
	body := http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := json.NewDecoder(body).Decode(&recs); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.handleServiceError(w, r, domain.ErrPayloadTooLarge.WithCause(err))
			return
		}
		h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("body must be a JSON array of records").WithCause(err))
		return
	}

	n, err := h.records.PutMany(r.Context(), class, recs)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "records stored",
		"user", PrincipalFromContext(r.Context()).User,
		"class", class,
		"count", n)
	h.writeJSON(w, r, http.StatusOK, PutRecordsResponse{Class: class, Stored: n})
}

// handleCountRecords handles GET /admin/v1/records/{class}.
func (h *Handler) handleCountRecords(w http.ResponseWriter, r *http.Request) {
	class, err := h.pathClass(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	n, err := h.records.Count(r.Context(), class)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, CountRecordsResponse{Class: class, Count: n})
}

// handleGetRecord handles GET /admin/v1/records/{class}/{ref}.
func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	class, err := h.pathClass(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	rec, err := h.records.Get(r.Context(), class, r.PathValue("ref"))
	if errors.Is(err, docstore.ErrRecordNotFound) {
		h.handleServiceError(w, r, domain.ErrRecordNotFound.WithDetails(r.PathValue("ref")))
		return
	}
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, rec)
}

// handleDeleteRecord handles DELETE /admin/v1/records/{class}/{ref}.
func (h *Handler) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	class, err := h.pathClass(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if err := h.records.Delete(r.Context(), class, r.PathValue("ref")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
