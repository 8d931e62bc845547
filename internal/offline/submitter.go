package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	applicationsPath     = "/api/applications"
	submissionKeyField   = "client_submission_id"
	defaultSubmitTimeout = 15 * time.Second
)

var errMissingServerURL = errors.New("offline: server url is required")

// Submitter delivers one queued submission to the server create endpoint.
type Submitter interface {
	Submit(ctx context.Context, pending PendingSubmission) (SubmitResult, error)
}

// SubmitResult is the server's answer for an accepted submission.
type SubmitResult struct {
	ID        int64 `json:"id"`
	Duplicate bool  `json:"duplicate"`
}

// HTTPSubmitterConfig describes the remote API.
type HTTPSubmitterConfig struct {
	BaseURL      string
	SessionToken string
	Timeout      time.Duration
	RetryCount   int
}

// HTTPSubmitter posts submissions to the applications API.
type HTTPSubmitter struct {
	client *resty.Client
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewHTTPSubmitter builds a resty-backed Submitter.
func NewHTTPSubmitter(cfg HTTPSubmitterConfig) (*HTTPSubmitter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingServerURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryableResponse).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token := strings.TrimSpace(cfg.SessionToken); token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPSubmitter{client: client}, nil
}

// retryableResponse retries transport failures, throttling, and server errors. Rejections stay
// final so the entry is kept queued with the server's reason.
func retryableResponse(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError
}

// Submit posts the queued body with its temp id as the idempotency key.
func (s *HTTPSubmitter) Submit(ctx context.Context, pending PendingSubmission) (SubmitResult, error) {
	var body map[string]any
	if err := json.Unmarshal([]byte(pending.Payload), &body); err != nil || body == nil {
		return SubmitResult{}, ErrInvalidPayload
	}
	body[submissionKeyField] = pending.TempID

	var result SubmitResult
	var apiErr errorResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post(applicationsPath)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit %s: %w", pending.TempID, err)
	}
	if resp.IsError() {
		reason := apiErr.Error
		if reason == "" {
			reason = strings.TrimSpace(resp.String())
		}
		return SubmitResult{}, fmt.Errorf("submit %s: status %d: %s", pending.TempID, resp.StatusCode(), reason)
	}
	return result, nil
}
