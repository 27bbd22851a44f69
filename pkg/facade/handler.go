package facade

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DEVunderdog/NeuroAgent/internal/httpserver"
	"github.com/DEVunderdog/NeuroAgent/pkg/kb"
)

// userIDKey is the context key under which the caller's auth middleware is
// expected to stamp the resolved user id. This module performs no
// authentication of its own.
type userIDKey struct{}

// WithUserID returns a context carrying userID, for use by auth middleware
// mounted in front of Handler.Routes.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext extracts the user id stamped by the caller's auth
// middleware. Handlers mounted without that middleware always see ok=false.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok
}

// Handler provides HTTP handlers for the knowledge base API.
type Handler struct {
	logger *slog.Logger
	facade *Facade
}

// NewHandler creates a knowledge base Handler.
func NewHandler(logger *slog.Logger, f *Facade) *Handler {
	return &Handler{logger: logger, facade: f}
}

// Routes returns a chi.Router with all knowledge base routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}/documents", h.handleListDocs)
	r.Post("/{id}/documents", h.handleIngest)
	r.Delete("/{id}/documents", h.handleRemoveDocuments)
	r.Delete("/{id}", h.handleDelete)
	return r
}

// DocumentRoutes returns a chi.Router for the document-registry endpoints
// mounted independently of any single KB (e.g. at /documents).
func (h *Handler) DocumentRoutes() chi.Router {
	r := chi.NewRouter()
	r.Delete("/{id}", h.handleDeleteDocument)
	return r
}

type createKBRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

type kbResponse struct {
	Message string `json:"message"`
	KBID    int64  `json:"kb_id"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createKBRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	created, err := h.facade.CreateKB(r.Context(), userID, req.Name)
	if err != nil {
		if errors.Is(err, ErrRetryable) {
			httpserver.RespondError(w, http.StatusServiceUnavailable, "no_capacity",
				"no vector index currently available, retry shortly")
			return
		}
		h.logger.Error("creating knowledge base", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create knowledge base")
		return
	}

	httpserver.Respond(w, http.StatusCreated, kbResponse{
		Message: "successfully created knowledge base",
		KBID:    created.ID,
	})
}

type listKBResponse struct {
	Items      []kb.KnowledgeBase `json:"items"`
	TotalCount int                `json:"total_count"`
	Message    string             `json:"message"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.facade.ListKB(r.Context(), userID, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing knowledge bases", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list knowledge bases")
		return
	}

	httpserver.Respond(w, http.StatusOK, listKBResponse{
		Items:      items,
		TotalCount: total,
		Message:    "successfully fetched knowledge base",
	})
}

type listKBDocsResponse struct {
	Items      []kb.Document `json:"items"`
	TotalCount int           `json:"total_count"`
	Message    string        `json:"message"`
}

func (h *Handler) handleListDocs(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	kbID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || kbID == 0 {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request",
			"please provide knowledge base id to list knowledge base documents")
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.facade.ListKBDocs(r.Context(), userID, kbID, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing knowledge base documents", "error", err, "kb_id", kbID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list knowledge base documents")
		return
	}

	httpserver.Respond(w, http.StatusOK, listKBDocsResponse{
		Items:      items,
		TotalCount: total,
		Message:    "successfully listed knowledge base documents",
	})
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	kbID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || kbID == 0 {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "please provide knowledge base id to delete")
		return
	}

	if err := h.facade.DeleteKB(r.Context(), userID, kbID); err != nil {
		if errors.Is(err, kb.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "cannot find knowledge base to delete")
			return
		}
		h.logger.Error("deleting knowledge base", "error", err, "kb_id", kbID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete knowledge base")
		return
	}

	httpserver.Respond(w, http.StatusOK, messageResponse{Message: "successfully deleted knowledge base"})
}

type ingestionRequest struct {
	FileIDs []int64 `json:"file_ids" validate:"required,min=1"`
}

type ingestionResponse struct {
	Message        string `json:"message"`
	IngestionJobID int64  `json:"ingestion_job_id"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	h.handleDocumentLinkChange(w, r, false)
}

func (h *Handler) handleRemoveDocuments(w http.ResponseWriter, r *http.Request) {
	h.handleDocumentLinkChange(w, r, true)
}

func (h *Handler) handleDocumentLinkChange(w http.ResponseWriter, r *http.Request, removing bool) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	kbID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || kbID == 0 {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "please provide knowledge base id")
		return
	}

	var req ingestionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var jobID int64
	if removing {
		jobID, err = h.facade.RemoveDocuments(r.Context(), userID, kbID, req.FileIDs)
	} else {
		jobID, err = h.facade.IngestDocuments(r.Context(), userID, kbID, req.FileIDs)
	}
	if err != nil {
		switch {
		case errors.Is(err, kb.ErrNotFound):
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "cannot find knowledge base")
		case errors.Is(err, ErrNoDocuments):
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "none of the given documents were found")
		default:
			h.logger.Error("ingestion request failed", "error", err, "kb_id", kbID, "removing", removing)
			httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", "cannot queue ingestion job")
		}
		return
	}

	httpserver.Respond(w, http.StatusCreated, ingestionResponse{
		Message:        "successfully requested ingestion",
		IngestionJobID: jobID,
	})
}

func (h *Handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	docID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || docID == 0 {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "please provide valid file id to delete")
		return
	}

	if err := h.facade.DeleteDocument(r.Context(), userID, []int64{docID}); err != nil {
		if errors.Is(err, kb.ErrConflict) {
			httpserver.RespondError(w, http.StatusConflict, "conflict",
				"cannot delete file: it is currently part of a knowledge base")
			return
		}
		h.logger.Error("deleting document", "error", err, "doc_id", docID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete document")
		return
	}

	httpserver.Respond(w, http.StatusOK, messageResponse{Message: "successfully deleted files"})
}
