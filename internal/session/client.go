// Package session talks to the marketplace REST API for the call
// lifecycle around the realtime path: fetching session details and
// bracketing the call with start/end so booking state stays consistent.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gokul-gkm/devconnect-rtc/internal/auth"
)

// Details describes one booked mentoring session.
type Details struct {
	ID          string    `json:"sessionId"`
	Title       string    `json:"title"`
	DeveloperID string    `json:"developerId"`
	UserID      string    `json:"userId"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"sessionDate"`
	Duration    int       `json:"duration"`
}

// Client is the REST client for session endpoints. Transient failures
// (network errors, 5xx) are retried with exponential backoff; 4xx
// responses fail immediately.
type Client struct {
	base  string
	http  *http.Client
	store *auth.Store
	log   *zap.Logger
}

func NewClient(baseURL string, store *auth.Store) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		store: store,
		log:   zap.L().Named("session"),
	}
}

// Get fetches session details.
func (c *Client) Get(ctx context.Context, sessionID string) (*Details, error) {
	var d Details
	path := fmt.Sprintf("/sessions/%s", sessionID)
	if err := c.do(ctx, http.MethodGet, path, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Start marks the session as in progress. Called once the local
// participant has joined the call room.
func (c *Client) Start(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%s/start", sessionID), nil)
}

// End marks the session completed. Called from the leave path; the
// server treats a repeated end as a no-op, so both participants may call
// it.
func (c *Client) End(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%s/end", sessionID), nil)
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	creds, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	return backoff.Retry(func() error {
		err := c.once(ctx, method, path, creds.Token, out)
		var te *transientError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &te):
			c.log.Warn("request failed, retrying",
				zap.String("method", method), zap.String("path", path), zap.Error(te.err))
			return te
		default:
			return backoff.Permanent(err)
		}
	}, policy)
}

func (c *Client) once(ctx context.Context, method, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return &transientError{err: fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)}
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
