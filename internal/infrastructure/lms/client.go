package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lti-booking/internal/config"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	"lti-booking/pkg/logger"

	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout = 20 * time.Second
	defaultPerPage = 100
	defaultBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	maxBodyInError = 512
)

// Client talks to the LMS REST API on behalf of a token owner.
type Client struct {
	baseURL       string
	origin        *url.URL
	httpClient    *http.Client
	tokens        interfaces.TokenSource
	maxErrorCount int
	perPage       int
	backoff       time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.LMSConfig, tokens interfaces.TokenSource) *Client {
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewClientWithHTTP(cfg, tokens, &http.Client{Timeout: timeout})
}

func NewClientWithHTTP(cfg config.LMSConfig, tokens interfaces.TokenSource, httpClient *http.Client) *Client {
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	maxErrors := cfg.MaxErrorCount
	if maxErrors < 0 {
		maxErrors = 0
	}
	backoff := cfg.RetryBackoffDuration()
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	origin, err := url.Parse(baseURL)
	if err != nil {
		logger.Warn("lms: cannot parse base url %q: %v", baseURL, err)
		origin = &url.URL{}
	}

	return &Client{
		baseURL:       baseURL,
		origin:        origin,
		httpClient:    httpClient,
		tokens:        tokens,
		maxErrorCount: maxErrors,
		perPage:       perPage,
		backoff:       backoff,
		sleep:         sleepContext,
	}
}

// Get fetches path and follows rel="next" links until the last page. Each page
// must be a JSON array; the elements of all pages are returned in order.
// Temporary failures are retried on the same page while the error budget
// lasts, after a backoff that honours Retry-After. Next links pointing away
// from the LMS fail with ErrForeignURL.
func (c *Client) Get(ctx context.Context, owner interfaces.TokenOwner, path string, query url.Values) ([]json.RawMessage, error) {
	if query == nil {
		query = url.Values{}
	}
	if query.Get("per_page") == "" {
		query.Set("per_page", strconv.Itoa(c.perPage))
	}

	next := c.resolve(path) + "?" + query.Encode()
	var (
		items    []json.RawMessage
		failures int
	)

	for next != "" {
		resp, err := c.do(ctx, owner, http.MethodGet, next, nil, "")
		if err != nil {
			if !retryable(err) || failures >= c.maxErrorCount {
				return nil, err
			}
			failures++
			wait := c.retryDelay(err, failures)
			logger.WithFields(logrus.Fields{
				"url":     next,
				"attempt": failures,
				"budget":  c.maxErrorCount,
				"wait":    wait.String(),
			}).WithError(err).Warn("lms: retrying GET")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		var page []json.RawMessage
		if err := json.Unmarshal(resp.body, &page); err != nil {
			return nil, fmt.Errorf("lms: decode page %s: %w", next, err)
		}
		items = append(items, page...)
		next = nextLink(resp.header.Get("Link"))
	}

	return items, nil
}

// Post sends a form-encoded body and returns the raw response.
func (c *Client) Post(ctx context.Context, owner interfaces.TokenOwner, path string, form url.Values) ([]byte, error) {
	resp, err := c.do(ctx, owner, http.MethodPost, c.resolve(path), []byte(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

type response struct {
	header http.Header
	body   []byte
}

// do sends one request. A 401 carrying a WWW-Authenticate challenge triggers
// exactly one token refresh and one retry.
func (c *Client) do(ctx context.Context, owner interfaces.TokenOwner, method, target string, body []byte, contentType string) (*response, error) {
	if !c.sameOrigin(target) {
		return nil, fmt.Errorf("%w: %s", ErrForeignURL, target)
	}
	token, err := c.tokens.Token(ctx, owner)
	if err != nil {
		return nil, err
	}

	refreshed := false
	for {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, fmt.Errorf("lms: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("lms: %s %s: %w", method, target, err)
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("lms: read response: %w", readErr)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return &response{header: resp.Header, body: data}, nil

		case resp.StatusCode == http.StatusUnauthorized:
			if resp.Header.Get("WWW-Authenticate") == "" || refreshed {
				return nil, ErrReauthenticationRequired
			}
			refreshed = true
			token, err = c.tokens.Refresh(ctx, owner)
			if err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusBadRequest:
			return nil, fmt.Errorf("%w: %s", ErrBadRequest, truncate(data))

		default:
			apiErr := &APIError{
				Method:     method,
				URL:        target,
				StatusCode: resp.StatusCode,
				Body:       truncate(data),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			}
			logger.WithFields(logrus.Fields{
				"method": method,
				"url":    target,
				"status": resp.StatusCode,
				"user":   owner.UserID,
			}).Error("lms request failed")
			return nil, apiErr
		}
	}
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// sameOrigin reports whether target is on the configured LMS scheme and host.
func (c *Client) sameOrigin(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

// retryDelay doubles the base backoff per attempt unless the server asked
// for a specific wait. Both are capped.
func (c *Client) retryDelay(err error, attempt int) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return min(apiErr.RetryAfter, maxBackoff)
	}
	wait := c.backoff << (attempt - 1)
	if wait <= 0 || wait > maxBackoff {
		return maxBackoff
	}
	return wait
}

// parseRetryAfter reads delay-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, ErrReauthenticationRequired) || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrForeignURL) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxBodyInError {
		return s[:maxBodyInError] + "..."
	}
	return s
}
