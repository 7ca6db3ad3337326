package minerapi

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

	"github.com/cenkalti/backoff/v4"

	"github.com/worldland/miner-fleet/internal/domain"
)

// API endpoint paths, relative to the base URL
const (
	pathLogin      = "/login"
	pathLogout     = "/logout"
	pathProfileSet = "/profileset"
	pathCurtail    = "/curtail"
)

// maxErrorBody caps how much of an error response is kept in the error text
const maxErrorBody = 512

// RetryPolicy bounds retries of transient failures (transport errors and 5xx)
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns three attempts with sub-second initial backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: API error %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client talks to the miner control API over HTTP JSON
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryPolicy
}

// NewClient creates a control API client. timeout bounds each HTTP attempt.
// A zero RetryPolicy selects DefaultRetryPolicy.
func NewClient(baseURL string, timeout time.Duration, retry RetryPolicy) *Client {
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry: retry,
	}
}

type minerRequest struct {
	MinerIP string `json:"miner_ip"`
}

type profileRequest struct {
	Token   string `json:"token"`
	Profile string `json:"profile"`
}

type curtailRequest struct {
	Token string `json:"token"`
	Mode  string `json:"mode"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Login opens a session for the miner at address
func (c *Client) Login(ctx context.Context, address string) (domain.LoginResult, error) {
	var result domain.LoginResult
	if err := c.doPostJSON(ctx, pathLogin, minerRequest{MinerIP: address}, &result); err != nil {
		return domain.LoginResult{}, err
	}
	return result, nil
}

// Logout closes the miner's session
func (c *Client) Logout(ctx context.Context, address string) error {
	return c.doPostJSON(ctx, pathLogout, minerRequest{MinerIP: address}, nil)
}

// SetProfile applies a performance profile and returns the miner's message
func (c *Client) SetProfile(ctx context.Context, token string, profile domain.Profile) (string, error) {
	var resp messageResponse
	if err := c.doPostJSON(ctx, pathProfileSet, profileRequest{Token: token, Profile: string(profile)}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// SetCurtailment applies a curtailment mode and returns the miner's message
func (c *Client) SetCurtailment(ctx context.Context, token string, mode domain.Curtailment) (string, error) {
	var resp messageResponse
	if err := c.doPostJSON(ctx, pathCurtail, curtailRequest{Token: token, Mode: string(mode)}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// doPostJSON posts payload and decodes the response into result,
// retrying transport errors and 5xx responses with exponential backoff
func (c *Client) doPostJSON(ctx context.Context, path string, payload interface{}, result interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	b.MaxElapsedTime = 0 // bounded by attempts and ctx instead

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retry.MaxAttempts-1)), ctx)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		err = c.doRequest(req, result)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, policy)
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &StatusError{Path: req.URL.Path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return backoff.Permanent(fmt.Errorf("%s: parse response: %w", req.URL.Path, err))
		}
	}
	return nil
}

// Compile-time interface check
var _ domain.DeviceClient = (*Client)(nil)
