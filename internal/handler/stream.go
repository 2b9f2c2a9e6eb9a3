package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/service0427/slot-inquiry/internal/middleware"
	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/service"
	"github.com/service0427/slot-inquiry/pkg/logger"
)

// EventReader replays the recorded events of an inquiry.
type EventReader interface {
	GetEvents(ctx context.Context, inquiryID string, afterSequence uint64, limit int) ([]model.InquiryEvent, uint64, bool, error)
}

const replayBatch = 50

// StreamHandler serves the event history of an inquiry over SSE.
type StreamHandler struct {
	events    EventReader
	inquiries *service.InquiryService
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler. events may be nil when no
// event stream is configured.
func NewStreamHandler(events EventReader, inquiries *service.InquiryService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		events:    events,
		inquiries: inquiries,
		logger:    logger.OrNop(log).Component("event-stream"),
		heartbeat: 30 * time.Second,
	}
}

// ReplayCompleteEvent marks the end of the replayed history.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}

// Events handles GET /api/v1/inquiries/{id}/events
// Supports ?after_sequence=N for resuming from a specific point. Admin only.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inquiryID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("inquiry", inquiryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	if _, err := h.inquiries.Get(ctx, middleware.GetActor(ctx), inquiryID); err != nil {
		writeServiceError(w, h.logger, "get inquiry", err)
		return
	}

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		afterSequence = seq
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sendSSEEvent(w, flusher, "connected", map[string]string{"inquiry_id": inquiryID})

	lastSequence := afterSequence
	total := 0
	for {
		events, last, hasMore, err := h.events.GetEvents(ctx, inquiryID, lastSequence, replayBatch)
		if err != nil {
			h.logger.Error("failed to replay events", zap.String("inquiry_id", inquiryID), zap.Error(err))
			sendSSEEvent(w, flusher, "error", map[string]string{"code": "replay_error", "message": "failed to replay events"})
			return
		}
		for _, e := range events {
			if ctx.Err() != nil {
				return
			}
			sendSSEEvent(w, flusher, string(e.Type), e)
			total++
		}
		if last > lastSequence {
			lastSequence = last
		}
		if !hasMore {
			break
		}
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   total,
	})
	h.logger.Info("event replay complete",
		zap.String("inquiry_id", inquiryID),
		zap.Int("events_replayed", total),
		zap.Uint64("last_sequence", lastSequence),
	)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("inquiry_id", inquiryID))
			return
		case now := <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]time.Time{"timestamp": now.UTC()})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
