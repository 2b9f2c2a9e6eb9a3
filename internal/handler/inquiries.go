// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/service0427/slot-inquiry/internal/middleware"
	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/service"
	"github.com/service0427/slot-inquiry/pkg/logger"
)

// InquiryHandler handles inquiry endpoints.
type InquiryHandler struct {
	service *service.InquiryService
	logger  *logger.Logger
}

// NewInquiryHandler creates a new inquiry handler.
func NewInquiryHandler(svc *service.InquiryService, log *logger.Logger) *InquiryHandler {
	return &InquiryHandler{
		service: svc,
		logger:  logger.OrNop(log),
	}
}

// Create handles POST /api/v1/inquiries
func (h *InquiryHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateInquiryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inq, err := h.service.Create(ctx, middleware.GetActor(ctx), &req)
	if err != nil {
		writeServiceError(w, h.logger, "create inquiry", err)
		return
	}

	writeJSON(w, http.StatusCreated, inq)
}

// List handles GET /api/v1/inquiries
func (h *InquiryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := middleware.ParseInquiryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.service.List(ctx, middleware.GetActor(ctx), filter)
	if err != nil {
		writeServiceError(w, h.logger, "list inquiries", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// Get handles GET /api/v1/inquiries/{id}
func (h *InquiryHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inquiryID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("inquiry", inquiryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inq, err := h.service.Get(ctx, middleware.GetActor(ctx), inquiryID)
	if err != nil {
		writeServiceError(w, h.logger, "get inquiry", err)
		return
	}

	writeJSON(w, http.StatusOK, inq)
}

// UpdateStatus handles PUT /api/v1/inquiries/{id}/status
func (h *InquiryHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inquiryID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("inquiry", inquiryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateStatus(req.Status); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inq, err := h.service.UpdateStatus(ctx, middleware.GetActor(ctx), inquiryID, req.Status)
	if err != nil {
		writeServiceError(w, h.logger, "update status", err)
		return
	}

	writeJSON(w, http.StatusOK, inq)
}
