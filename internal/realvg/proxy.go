package realvg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"
)

// batchMaxDates is the upper bound on dates per batched proxy call.
const batchMaxDates = 10

// ProxyClient talks to the serverless proxy functions instead of the
// external API directly. The proxy needs no client-side credentials.
type ProxyClient struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewProxyClient returns a client for the serverless proxy at baseURL.
func NewProxyClient(baseURL string, opts ...Option) *ProxyClient {
	o := buildOptions(opts)
	if baseURL == "" {
		baseURL = o.baseURL
	}
	return &ProxyClient{baseURL: baseURL, http: o.http, log: o.log}
}

// KarmaForDate fetches one date through the single-date proxy function.
func (p *ProxyClient) KarmaForDate(ctx context.Context, date string) ([]RankedUser, error) {
	var users []RankedUser
	u := fmt.Sprintf("%s/karmaForDate?date=%s", p.baseURL, url.QueryEscape(date))
	if err := getJSON(ctx, p.http, p.log, u, nil, &users); err != nil {
		return nil, fmt.Errorf("proxy karma ranks for %s: %w", date, err)
	}
	return users, nil
}

// KarmaForDates fetches several dates through the batched proxy function,
// at most batchMaxDates per call. Batches are issued sequentially; a failed
// batch fails the whole warm-up and is reported to the caller.
func (p *ProxyClient) KarmaForDates(ctx context.Context, dates []string) (map[string][]RankedUser, error) {
	results := make(map[string][]RankedUser, len(dates))

	for start := 0; start < len(dates); start += batchMaxDates {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		end := start + batchMaxDates
		if end > len(dates) {
			end = len(dates)
		}

		batch, err := p.karmaBatch(ctx, dates[start:end])
		if err != nil {
			return results, fmt.Errorf("karma batch %v: %w", dates[start:end], err)
		}
		for date, users := range batch {
			results[date] = users
		}
	}
	return results, nil
}

func (p *ProxyClient) karmaBatch(ctx context.Context, dates []string) (map[string][]RankedUser, error) {
	payload, err := json.Marshal(map[string][]string{"dates": dates})
	if err != nil {
		return nil, err
	}

	body, err := retry.DoWithData(
		func() ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				p.baseURL+"/karmaForDateBatch", bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			return doOnce(p.http, req)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxJitter(250*time.Millisecond),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			p.log.Debug().Uint("attempt", n+1).Int("dates", len(dates)).Err(err).Msg("retrying karma batch")
		}),
	)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Results map[string][]RankedUser `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return resp.Results, nil
}
