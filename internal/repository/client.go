package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/pkg/logger"
	"github.com/service0427/slot-inquiry/pkg/metrics"
	"github.com/service0427/slot-inquiry/pkg/tracing"
)

// ActingUserHeader carries the explicit actor of a call. The backend rejects
// calls whose actor does not match the authenticated subject.
const ActingUserHeader = "X-Acting-User"

// ClientConfig holds the HTTP client settings.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements Repository over the backend's REST API.
type Client struct {
	http   *resty.Client
	logger *logger.Logger
	tracer trace.Tracer
}

var _ Repository = (*Client)(nil)

// apiError is the backend's error body.
type apiError struct {
	Error string `json:"error"`
}

// NewClient creates a REST repository client.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("repository base URL cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:   httpClient,
		logger: logger.OrNop(log).Component("repository"),
		tracer: tracing.Tracer("inquiry/repository"),
	}, nil
}

// ListInquiries handles GET /api/v1/inquiries
func (c *Client) ListInquiries(ctx context.Context, filter model.InquiryFilter) (*model.InquiryPage, error) {
	query := map[string]string{}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.SlotID != "" {
		query["slot_id"] = filter.SlotID
	}
	if filter.Page > 0 {
		query["page"] = strconv.Itoa(filter.Page)
	}
	if filter.PageSize > 0 {
		query["page_size"] = strconv.Itoa(filter.PageSize)
	}

	var page model.InquiryPage
	err := c.do(ctx, "ListInquiries", http.MethodGet, "/api/v1/inquiries", nil, func(r *resty.Request) {
		r.SetQueryParams(query)
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// GetInquiry handles GET /api/v1/inquiries/{id}
func (c *Client) GetInquiry(ctx context.Context, id string) (*model.Inquiry, error) {
	var inq model.Inquiry
	err := c.do(ctx, "GetInquiry", http.MethodGet, "/api/v1/inquiries/{id}", nil, func(r *resty.Request) {
		r.SetPathParam("id", id)
	}, &inq)
	if err != nil {
		return nil, err
	}
	return &inq, nil
}

// CreateInquiry handles POST /api/v1/inquiries
func (c *Client) CreateInquiry(ctx context.Context, req model.CreateInquiryRequest, actor model.Actor) (*model.Inquiry, error) {
	var inq model.Inquiry
	err := c.do(ctx, "CreateInquiry", http.MethodPost, "/api/v1/inquiries", &actor, func(r *resty.Request) {
		r.SetBody(req)
	}, &inq)
	if err != nil {
		return nil, err
	}
	return &inq, nil
}

// UpdateInquiryStatus handles PUT /api/v1/inquiries/{id}/status
func (c *Client) UpdateInquiryStatus(ctx context.Context, id string, status model.Status, actor model.Actor) (*model.Inquiry, error) {
	var inq model.Inquiry
	err := c.do(ctx, "UpdateInquiryStatus", http.MethodPut, "/api/v1/inquiries/{id}/status", &actor, func(r *resty.Request) {
		r.SetPathParam("id", id).SetBody(model.UpdateStatusRequest{Status: status})
	}, &inq)
	if err != nil {
		return nil, err
	}
	return &inq, nil
}

// ListMessages handles GET /api/v1/inquiries/{id}/messages
func (c *Client) ListMessages(ctx context.Context, inquiryID string) ([]model.InquiryMessage, error) {
	var resp model.ListMessagesResponse
	err := c.do(ctx, "ListMessages", http.MethodGet, "/api/v1/inquiries/{id}/messages", nil, func(r *resty.Request) {
		r.SetPathParam("id", inquiryID)
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage handles POST /api/v1/inquiries/{id}/messages
func (c *Client) SendMessage(ctx context.Context, req model.SendMessageRequest, actor model.Actor) (*model.InquiryMessage, error) {
	if req.SenderName == "" {
		req.SenderName = actor.Name
	}
	if req.SenderEmail == "" {
		req.SenderEmail = actor.Email
	}

	var msg model.InquiryMessage
	err := c.do(ctx, "SendMessage", http.MethodPost, "/api/v1/inquiries/{id}/messages", &actor, func(r *resty.Request) {
		r.SetPathParam("id", req.InquiryID).SetBody(req)
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetUnreadCount handles GET /api/v1/users/{id}/unread-count
func (c *Client) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	var resp model.UnreadCountResponse
	err := c.do(ctx, "GetUnreadCount", http.MethodGet, "/api/v1/users/{id}/unread-count", nil, func(r *resty.Request) {
		r.SetPathParam("id", userID)
	}, &resp)
	if err != nil {
		return 0, err
	}
	if resp.Count < 0 {
		return 0, NewError("GetUnreadCount", 0, fmt.Errorf("negative unread count %d", resp.Count))
	}
	return resp.Count, nil
}

// MarkRead handles POST /api/v1/inquiries/{id}/read
func (c *Client) MarkRead(ctx context.Context, inquiryID string, actor model.Actor) error {
	return c.do(ctx, "MarkRead", http.MethodPost, "/api/v1/inquiries/{id}/read", &actor, func(r *resty.Request) {
		r.SetPathParam("id", inquiryID)
	}, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, actor *model.Actor, prepare func(*resty.Request), result any) (err error) {
	ctx, span := c.tracer.Start(ctx, "repository."+op, trace.WithSpanKind(trace.SpanKindClient))
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryCall(op, err, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req := c.http.R().SetContext(ctx).SetError(&apiError{})
	if result != nil {
		req.SetResult(result)
	}
	if actor != nil {
		req.SetHeader(ActingUserHeader, actor.UserID)
		span.SetAttributes(attribute.String("actor.id", actor.UserID), attribute.String("actor.role", string(actor.Role)))
	}
	if prepare != nil {
		prepare(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Warn("repository request failed", zap.String("op", op), zap.Error(err))
		return NewError(op, 0, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.IsError() {
		cause := errors.New(http.StatusText(resp.StatusCode()))
		if body, ok := resp.Error().(*apiError); ok && body.Error != "" {
			cause = errors.New(body.Error)
		}
		c.logger.Debug("repository returned an error",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode()),
			zap.Error(cause),
		)
		return NewError(op, resp.StatusCode(), cause)
	}

	c.logger.Debug("repository call completed",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
