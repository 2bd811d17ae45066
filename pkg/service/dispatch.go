package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/quality-manager/pkg/quality"
)

const (
	ActionGetQualityConfig     = "get_quality_config"
	ActionValidateStreamAccess = "validate_stream_access"
	ActionUpdateViewerMetrics  = "update_viewer_metrics"
	ActionOptimizeQuality      = "optimize_quality"
)

// ActionRequest is the single structured input of an invocation. Which
// fields matter depends on Action.
type ActionRequest struct {
	Action           string         `json:"action"`
	UserID           string         `json:"user_id"`
	SubscriptionTier quality.Tier   `json:"subscription_tier,omitempty"`
	RequestedQuality quality.Level  `json:"requested_quality,omitempty"`
	StreamID         string         `json:"stream_id,omitempty"`
	Metrics          *MetricsReport `json:"metrics,omitempty"`
	CurrentMetrics   *MetricsReport `json:"current_metrics,omitempty"`
}

// Response is the structured result of an invocation. Body is JSON text.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

func responseHeaders() map[string]string {
	return map[string]string{
		"Content-Type":                 "application/json",
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "Content-Type,Authorization",
		"Access-Control-Allow-Methods": "GET,POST,PUT,DELETE,OPTIONS",
	}
}

// ActionHandler routes invocations to the QualityManager and renders
// results and errors into responses.
type ActionHandler struct {
	manager *QualityManager
	sink    MetricsSink
}

func NewActionHandler(manager *QualityManager, sink MetricsSink) *ActionHandler {
	if sink == nil {
		sink = NoopMetricsSink
	}
	return &ActionHandler{
		manager: manager,
		sink:    sink,
	}
}

// Invoke decodes a raw JSON envelope and handles it.
func (h *ActionHandler) Invoke(ctx context.Context, payload []byte) *Response {
	req := &ActionRequest{}
	if err := json.Unmarshal(payload, req); err != nil {
		return h.respond("", time.Now(), nil, invalidRequest("Invalid request body: %v", err))
	}
	return h.Handle(ctx, req)
}

func (h *ActionHandler) Handle(ctx context.Context, req *ActionRequest) *Response {
	start := time.Now()
	action := req.Action
	if action == "" {
		action = ActionGetQualityConfig
	}
	logger.Infow("processing quality action",
		"action", action,
		"userID", req.UserID,
		"tier", req.SubscriptionTier,
	)

	var (
		result interface{}
		err    error
	)
	switch action {
	case ActionGetQualityConfig:
		result, err = h.manager.GetQualityConfig(ctx, QualityConfigRequest{
			UserID:           req.UserID,
			SubscriptionTier: req.SubscriptionTier,
		})
	case ActionValidateStreamAccess:
		result, err = h.manager.ValidateStreamAccess(ctx, StreamAccessRequest{
			UserID:           req.UserID,
			SubscriptionTier: req.SubscriptionTier,
			RequestedQuality: req.RequestedQuality,
			StreamID:         req.StreamID,
		})
	case ActionUpdateViewerMetrics:
		result, err = h.manager.UpdateViewerMetrics(ctx, ViewerMetricsRequest{
			UserID:   req.UserID,
			StreamID: req.StreamID,
			Metrics:  req.Metrics,
		})
	case ActionOptimizeQuality:
		result, err = h.manager.OptimizeQuality(ctx, OptimizeRequest{
			UserID:         req.UserID,
			StreamID:       req.StreamID,
			CurrentMetrics: req.CurrentMetrics,
		})
	default:
		err = newRequestError(ErrUnknownAction, fmt.Sprintf("Unknown action: %s", action), nil)
	}
	return h.respond(action, start, result, err)
}

func (h *ActionHandler) respond(action string, start time.Time, result interface{}, err error) *Response {
	status := http.StatusOK
	var body interface{} = result
	if err != nil {
		status = StatusCode(err)
		var re *RequestError
		if errors.As(err, &re) {
			body = re.Body()
		} else {
			logger.Errorw("quality action failed", err, "action", action)
			body = map[string]interface{}{
				"error":   "Quality management failed",
				"message": err.Error(),
			}
		}
	}
	h.sink.ActionHandled(action, status, time.Since(start))

	data, merr := json.Marshal(body)
	if merr != nil {
		logger.Errorw("could not encode response", merr, "action", action)
		status = http.StatusInternalServerError
		data = []byte(`{"error":"Quality management failed"}`)
	}
	return &Response{
		StatusCode: status,
		Headers:    responseHeaders(),
		Body:       string(data),
	}
}
