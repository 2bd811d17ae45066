package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/quality-manager/pkg/service"
)

const (
	actionPath     = "/quality"
	defaultTimeout = 10 * time.Second
	maxRetries     = 3
)

// Result is a decoded server reply.
type Result struct {
	StatusCode int
	Body       json.RawMessage
}

func (r *Result) OK() bool {
	return r.StatusCode == http.StatusOK
}

// QualityClient posts action envelopes to a quality server. Replies marked
// retryable are retried with exponential backoff.
type QualityClient struct {
	url        string
	httpClient *http.Client
	maxRetries uint64
}

func NewQualityClient(host string) *QualityClient {
	return &QualityClient{
		url:        strings.TrimRight(host, "/") + actionPath,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: maxRetries,
	}
}

func (c *QualityClient) Do(ctx context.Context, req *service.ActionRequest) (*Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var res *Result
	op := func() error {
		var err error
		res, err = c.post(ctx, payload)
		if err != nil {
			return err
		}
		if isRetryable(res) {
			return fmt.Errorf("server replied %d", res.StatusCode)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	err = backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		logger.Debugw("retrying quality action", "action", req.Action, "error", err, "retryIn", next)
	})
	// a retryable reply that ran out of attempts is still a reply
	if err != nil && res != nil {
		return res, nil
	}
	return res, err
}

func (c *QualityClient) post(ctx context.Context, payload []byte) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, backoff.Permanent(errors.Errorf("unexpected reply (%d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return &Result{StatusCode: resp.StatusCode, Body: body}, nil
}

func isRetryable(res *Result) bool {
	if res.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	var body struct {
		Retryable bool `json:"retryable"`
	}
	return json.Unmarshal(res.Body, &body) == nil && body.Retryable
}
