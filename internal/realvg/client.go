// Package realvg provides clients for the RealSports karma ranking APIs:
// the per-date ranked-user list and the per-user ranked-days history.
package realvg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"
	hashids "github.com/speps/go-hashids/v2"
)

const (
	// defaultBaseURL is the root endpoint of the web API.
	defaultBaseURL = "https://web.realsports.io"
	// apiVersion is sent in the real-version header.
	apiVersion = "27"
	// historyPageDelay spaces out ranked-days pagination requests.
	historyPageDelay = 500 * time.Millisecond

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"
)

// RankedUser is one entry of a per-date ranked-user list.
type RankedUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Amount   int    `json:"amount"`
	Rank     int    `json:"rank"`
}

// RankedDay is one entry of a user's ranked-days history.
type RankedDay struct {
	Day   string `json:"day"`
	Karma int    `json:"karma"`
	Rank  int    `json:"rank"`
}

// Source supplies the complete ranked-user list for a calendar date.
// All transports (direct, proxy, batched proxy) yield the same shape.
type Source interface {
	KarmaForDate(ctx context.Context, date string) ([]RankedUser, error)
}

// BatchSource warms several dates in one upstream call.
type BatchSource interface {
	KarmaForDates(ctx context.Context, dates []string) (map[string][]RankedUser, error)
}

// HistorySource supplies a user's full ranked-days history, newest first,
// bounded below by notBefore (an ISO day string; empty means no bound).
type HistorySource interface {
	History(ctx context.Context, userID, notBefore string) ([]RankedDay, error)
}

// HTTPError is a non-2xx response from the ranking source.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// Client talks to the RealSports web API directly.
type Client struct {
	baseURL    string
	authToken  string
	deviceUUID string
	http       *http.Client
	log        zerolog.Logger
}

// Option configures a Client or ProxyClient.
type Option func(*options)

type options struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// WithBaseURL overrides the API root (used by tests).
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func buildOptions(opts []Option) options {
	o := options{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient returns a direct API client. authToken may be empty; the karma
// ranks endpoint requires it, the ranked-days endpoint does not.
func NewClient(authToken, deviceUUID string, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		baseURL:    o.baseURL,
		authToken:  authToken,
		deviceUUID: deviceUUID,
		http:       o.http,
		log:        o.log,
	}
}

// Authenticated reports whether the client carries an auth token.
func (c *Client) Authenticated() bool { return c.authToken != "" }

// KarmaForDate fetches the complete ranked-user list for one calendar date.
func (c *Client) KarmaForDate(ctx context.Context, date string) ([]RankedUser, error) {
	var users []RankedUser
	u := fmt.Sprintf("%s/userkarmaranks/day/%s", c.baseURL, url.PathEscape(date))
	if err := getJSON(ctx, c.http, c.log, u, c.setHeaders, &users); err != nil {
		return nil, fmt.Errorf("karma ranks for %s: %w", date, err)
	}
	return users, nil
}

// History fetches the full ranked-days history for a user, paging backwards
// until the API runs out of days or crosses notBefore. Day strings from the
// API are ISO dates, so the boundary comparison is lexicographic.
func (c *Client) History(ctx context.Context, userID, notBefore string) ([]RankedDay, error) {
	var all []RankedDay
	oldest := ""

	for {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		u := fmt.Sprintf("%s/rankeddays/%s?sort=latest", c.baseURL, url.PathEscape(userID))
		if oldest != "" {
			u += "&before=" + url.QueryEscape(oldest)
		}

		var page struct {
			Days []RankedDay `json:"days"`
		}
		if err := getJSON(ctx, c.http, c.log, u, c.setHeaders, &page); err != nil {
			return all, fmt.Errorf("ranked days for %s: %w", userID, err)
		}
		if len(page.Days) == 0 {
			return all, nil
		}

		all = append(all, page.Days...)
		oldest = page.Days[len(page.Days)-1].Day
		if notBefore != "" && oldest < notBefore {
			return all, nil
		}

		select {
		case <-ctx.Done():
			return all, ctx.Err()
		case <-time.After(historyPageDelay):
		}
	}
}

// setHeaders attaches the web-client headers the API expects. The request
// token is a hashid of the current millisecond timestamp.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://realsports.io")
	req.Header.Set("Referer", "https://realsports.io/")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("real-device-name", "Chrome on Windows")
	req.Header.Set("real-device-type", "desktop_web")
	req.Header.Set("real-version", apiVersion)
	if c.deviceUUID != "" {
		req.Header.Set("real-device-uuid", c.deviceUUID)
	}
	if c.authToken != "" {
		req.Header.Set("real-auth-info", c.authToken)
	}
	if tok := requestToken(); tok != "" {
		req.Header.Set("real-request-token", tok)
	}
}

func requestToken() string {
	hd := hashids.NewData()
	hd.Salt = "realwebapp"
	hd.MinLength = 16
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return ""
	}
	tok, err := h.EncodeInt64([]int64{time.Now().UnixMilli()})
	if err != nil {
		return ""
	}
	return tok
}

// getJSON performs a GET with retries on transient failures and decodes the
// response body into out.
func getJSON(ctx context.Context, hc *http.Client, log zerolog.Logger, rawURL string, setHeaders func(*http.Request), out any) error {
	body, err := retry.DoWithData(
		func() ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
			if err != nil {
				return nil, err
			}
			if setHeaders != nil {
				setHeaders(req)
			}
			return doOnce(hc, req)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxJitter(250*time.Millisecond),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Uint("attempt", n+1).Str("url", rawURL).Err(err).Msg("retrying request")
		}),
	)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func doOnce(hc *http.Client, req *http.Request) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: req.URL.String(), StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// isRetryable returns true for transient failures: network errors, 429 and 5xx.
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	return true
}
