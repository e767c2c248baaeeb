// Copyright 2025 Discrapp
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/discrapp/mobile-sub003/actionqueue"
)

// Executor dispatches one queued action to the remote API. Implementations
// must return a permanent error (see PermanentError) for failures that a
// retry cannot fix, so the driver can quarantine instead of re-attempting.
type Executor interface {
	Execute(ctx context.Context, action actionqueue.QueuedAction) error
}

// TokenProvider supplies the bearer token for authenticated requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// PermanentError marks err as non-retryable: the action that caused it will
// be quarantined rather than retried.
func PermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanent reports whether err (or anything it wraps) is marked permanent.
func Permanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// HTTPExecutor replays actions against the remote API over HTTP: one logical
// endpoint per action type, JSON body, bearer-token auth.
type HTTPExecutor struct {
	BaseURL string
	Token   TokenProvider
	HTTP    *http.Client
}

// NewHTTPExecutor creates an executor posting to baseURL. A nil client gets a
// 30s-timeout default.
func NewHTTPExecutor(baseURL string, token TokenProvider, client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		HTTP:    client,
	}
}

type actionRequest struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Execute implements Executor. Network errors, 5xx, 408 and 429 come back as
// transient errors; any other non-2xx status is permanent (the request itself
// is invalid and retrying cannot change the outcome).
func (e *HTTPExecutor) Execute(ctx context.Context, action actionqueue.QueuedAction) error {
	body, err := json.Marshal(actionRequest{
		ID:        action.ID,
		Type:      string(action.Type),
		Payload:   action.Payload,
		CreatedAt: action.CreatedAt,
	})
	if err != nil {
		return PermanentError(fmt.Errorf("failed to marshal action %s: %w", action.ID, err))
	}

	url := e.BaseURL + "/sync/actions/" + endpointPath(action.Type)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return PermanentError(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if e.Token != nil {
		token, err := e.Token.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get auth token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	cause := fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	if retryableStatus(resp.StatusCode) {
		return cause
	}
	return PermanentError(cause)
}

func retryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// endpointPath maps an action type to its URL segment: CREATE_DISC becomes
// create-disc.
func endpointPath(t actionqueue.ActionType) string {
	return strings.ReplaceAll(strings.ToLower(string(t)), "_", "-")
}
