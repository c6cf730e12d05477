package codeforces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cptrack/internal/config"
	"cptrack/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned when the upstream reports an unknown handle or contest.
	ErrNotFound = errors.New("codeforces: not found")
	// ErrUnavailable wraps failures to reach the upstream: DNS, dial, refused
	// connections.
	ErrUnavailable = errors.New("codeforces: unavailable")
	// ErrTimeout is returned when a reachable upstream does not answer within
	// the client timeout.
	ErrTimeout = errors.New("codeforces: timeout")
)

// APIError is a FAILED envelope or an unexpected HTTP status.
type APIError struct {
	StatusCode int
	Comment    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("codeforces: status %d: %s", e.StatusCode, e.Comment)
}

// Temporary reports whether repeating the call later may succeed.
func (e *APIError) Temporary() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return true
	}
	return strings.Contains(strings.ToLower(e.Comment), "limit exceeded")
}

type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

// Client calls a handful of read-only API methods. Every call waits on a
// shared limiter; selected methods are cached.
type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	cache    domain.Cache
	cacheTTL time.Duration
	logger   zerolog.Logger
}

func NewClient(cfg config.CodeforcesConfig, cache domain.Cache, logger *zerolog.Logger) *Client {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "codeforces").Logger()
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		logger:   l,
	}
}

// UserInfo returns the profiles of handles in request order.
func (c *Client) UserInfo(ctx context.Context, handles ...string) ([]User, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	joined := strings.Join(handles, ";")
	var users []User
	err := c.call(ctx, "user.info", url.Values{"handles": {joined}}, "user.info:"+strings.ToLower(joined), &users)
	return users, err
}

func (c *Client) UserRating(ctx context.Context, handle string) ([]RatingChange, error) {
	var changes []RatingChange
	err := c.call(ctx, "user.rating", url.Values{"handle": {handle}}, "", &changes)
	return changes, err
}

func (c *Client) ContestList(ctx context.Context) ([]Contest, error) {
	var contests []Contest
	err := c.call(ctx, "contest.list", url.Values{"gym": {"false"}}, "contest.list", &contests)
	return contests, err
}

func (c *Client) UserStatus(ctx context.Context, handle string) ([]Submission, error) {
	var subs []Submission
	err := c.call(ctx, "user.status", url.Values{"handle": {handle}}, "", &subs)
	return subs, err
}

func (c *Client) Problems(ctx context.Context) ([]Problem, error) {
	var ps problemset
	if err := c.call(ctx, "problemset.problems", nil, "problemset.problems", &ps); err != nil {
		return nil, err
	}
	return ps.Problems, nil
}

func (c *Client) call(ctx context.Context, method string, params url.Values, cacheKey string, out any) error {
	if cacheKey != "" && c.cache != nil {
		raw, ok, err := c.cache.Get(ctx, cacheKey)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", cacheKey).Msg("cache read failed")
		}
		if ok {
			if err := json.Unmarshal(raw, out); err == nil {
				return nil
			}
			c.logger.Warn().Str("key", cacheKey).Msg("dropping unreadable cache entry")
		}
	}

	raw, err := c.fetch(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}

	if cacheKey != "" && c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, cacheKey, raw, c.cacheTTL); err != nil {
			c.logger.Warn().Err(err).Str("key", cacheKey).Msg("cache write failed")
		}
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/api/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transportError(method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, transportError(method, err)
	}

	c.logger.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("upstream call")

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Comment: "malformed response"}
	}
	if env.Status != "OK" {
		if strings.Contains(strings.ToLower(env.Comment), "not found") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, env.Comment)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Comment: env.Comment}
	}
	return env.Result, nil
}

var missingHandleRe = regexp.MustCompile(`(?i)user with handle (\S+) not found`)

// MissingHandle extracts the handle named by a user.info not-found comment.
func MissingHandle(err error) (string, bool) {
	if !errors.Is(err, ErrNotFound) {
		return "", false
	}
	m := missingHandleRe.FindStringSubmatch(err.Error())
	if m == nil {
		return "", false
	}
	return m[1], true
}

func transportError(method string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, method, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
