package codeforces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// Client is a read-only Codeforces API client. Requests are throttled to a
// minimum inter-request interval because the API rate-limits aggressively.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int

	minInterval time.Duration
	mu          sync.Mutex
	lastCall    time.Time
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithMinInterval sets the request throttle; zero disables it.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 15 * time.Second,
		retryMax:       3,
		minInterval:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserInfo resolves a handle via user.info. An unknown handle comes back as a
// *DomainError.
func (c *Client) UserInfo(ctx context.Context, handle string) (*User, error) {
	q := url.Values{}
	q.Set("handles", handle)
	var users []User
	if err := c.doJSON(ctx, "/user.info", q, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, &DomainError{Comment: "empty user.info result for " + handle}
	}
	return &users[0], nil
}

// UserStatus fetches a user's submission history, most recent first. from is
// 1-based; from/count <= 0 fetch the full history.
func (c *Client) UserStatus(ctx context.Context, handle string, from, count int) ([]Submission, error) {
	q := url.Values{}
	q.Set("handle", handle)
	if from > 0 {
		q.Set("from", strconv.Itoa(from))
	}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	var subs []Submission
	if err := c.doJSON(ctx, "/user.status", q, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// Problems fetches the full problem catalog with rating tags.
func (c *Client) Problems(ctx context.Context) ([]ProblemRef, error) {
	var res problemsetResult
	if err := c.doJSON(ctx, "/problemset.problems", nil, &res); err != nil {
		return nil, err
	}
	return res.Problems, nil
}

func (c *Client) doJSON(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}

	uri := c.baseURL + path
	if len(q) > 0 {
		uri += "?" + q.Encode()
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(uri)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("codeforces request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			// the API reports domain failures inside a 4xx envelope too
			var env envelope
			if jerr := json.Unmarshal(resp.Body(), &env); jerr == nil && env.Status == "FAILED" {
				return &DomainError{Comment: env.Comment}
			}
			lastErr = fmt.Errorf("codeforces http error: status=%d", status)
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			return fmt.Errorf("decode codeforces response: %w", err)
		}
		if env.Status != "OK" {
			return &DomainError{Comment: env.Comment}
		}
		if out != nil {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("decode codeforces result: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

// throttle enforces the minimum inter-request spacing.
func (c *Client) throttle(ctx context.Context) error {
	if c.minInterval <= 0 {
		return nil
	}
	c.mu.Lock()
	wait := c.minInterval - time.Since(c.lastCall)
	if wait < 0 {
		wait = 0
	}
	c.lastCall = time.Now().Add(wait)
	c.mu.Unlock()
	if wait == 0 {
		return nil
	}
	return sleepWithContext(ctx, wait)
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 200 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
