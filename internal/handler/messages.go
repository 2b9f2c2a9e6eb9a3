package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/service0427/slot-inquiry/internal/middleware"
	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/service"
	"github.com/service0427/slot-inquiry/pkg/logger"
)

// MessageHandler handles thread and unread endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         logger.OrNop(log),
	}
}

// List handles GET /api/v1/inquiries/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inquiryID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("inquiry", inquiryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.messageService.List(ctx, middleware.GetActor(ctx), inquiryID)
	if err != nil {
		writeServiceError(w, h.logger, "get messages", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/inquiries/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inquiryID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("inquiry", inquiryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InquiryID != "" && req.InquiryID != inquiryID {
		writeError(w, http.StatusBadRequest, "inquiry_id does not match path")
		return
	}

	msg, err := h.messageService.Send(ctx, middleware.GetActor(ctx), inquiryID, &req)
	if err != nil {
		writeServiceError(w, h.logger, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /api/v1/inquiries/{id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inquiryID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("inquiry", inquiryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.messageService.MarkRead(ctx, middleware.GetActor(ctx), inquiryID)
	if err != nil {
		writeServiceError(w, h.logger, "mark read", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// UnreadCount handles GET /api/v1/users/{id}/unread-count
func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("user", userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.messageService.UnreadCount(ctx, middleware.GetActor(ctx), userID)
	if err != nil {
		writeServiceError(w, h.logger, "count unread messages", err)
		return
	}

	writeJSON(w, http.StatusOK, &model.UnreadCountResponse{UserID: userID, Count: n})
}
