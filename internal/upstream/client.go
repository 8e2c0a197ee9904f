// Package upstream fetches reservation pages from the third-party rental API.
//
// The API paginates by page number and filters via a JSON filter expression
// passed in the query string. Transient failures (network errors, 5xx, 429)
// are retried per page with exponential backoff; any other 4xx aborts the
// fetch immediately, surfacing the page index and cause.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// maxAttempts bounds how often a single page request is tried.
	maxAttempts = 3

	defaultTimeout = 30 * time.Second
)

// ErrUnavailable marks a page that stayed unreachable after all retry
// attempts were spent on transient failures.
var ErrUnavailable = errors.New("upstream unavailable")

// PageError reports which page a fetch died on and why.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// StatusError is a non-transient upstream HTTP failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Code, e.Body)
}

// Query describes one fetch: an inclusive pick-up date window plus the set of
// accepted statuses.
type Query struct {
	StartDate time.Time
	EndDate   time.Time
	Statuses  []string
}

// Client talks to the upstream reservations API.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client

	// retryInterval seeds the exponential backoff; tests shrink it.
	retryInterval time.Duration
}

// New creates a client for the given API base URL. The auth token is sent
// verbatim in the Authorization header on every request.
func New(baseURL, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		authToken:     authToken,
		http:          &http.Client{Timeout: timeout},
		retryInterval: 500 * time.Millisecond,
	}
}

// pageEnvelope is the upstream pagination wrapper.
type pageEnvelope struct {
	Data        []map[string]any `json:"data"`
	CurrentPage int              `json:"current_page"`
	LastPage    int              `json:"last_page"`
	Total       int              `json:"total"`
}

// Fetch walks every page matching q and calls visit once per reservation, in
// upstream order. The produced sequence is not restartable: a consumer that
// needs to redo must call Fetch again. Records whose status is outside the
// requested set are dropped client-side regardless of what the server did
// with the filter. A visit error stops the fetch and is returned as-is.
func (c *Client) Fetch(ctx context.Context, q Query, visit func(payload map[string]any) error) error {
	filters, err := filtersJSON(q)
	if err != nil {
		return fmt.Errorf("build filters: %w", err)
	}

	accepted := make(map[string]struct{}, len(q.Statuses))
	for _, s := range q.Statuses {
		accepted[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}

	correlationID := uuid.New().String()
	logger := log.With().Str("correlation_id", correlationID).Logger()
	logger.Info().
		Str("start_date", q.StartDate.Format("2006-01-02")).
		Str("end_date", q.EndDate.Format("2006-01-02")).
		Strs("statuses", q.Statuses).
		Msg("starting upstream fetch")

	total := 0
	for page := 1; ; page++ {
		env, done, err := c.fetchPage(ctx, page, filters, correlationID)
		if err != nil {
			return &PageError{Page: page, Err: err}
		}
		if done {
			break
		}

		for _, rec := range env.Data {
			status, _ := rec["status"].(string)
			if _, ok := accepted[strings.ToLower(status)]; !ok {
				continue
			}
			if err := visit(rec); err != nil {
				return err
			}
			total++
		}

		logger.Info().
			Int("page", env.CurrentPage).
			Int("page_records", len(env.Data)).
			Int("total_so_far", total).
			Msg("page fetched")

		// Stop on the upstream's own end-of-data signals.
		if env.LastPage > 0 && env.CurrentPage >= env.LastPage {
			break
		}
		if len(env.Data) == 0 {
			break
		}
	}

	logger.Info().Int("total", total).Msg("upstream fetch complete")
	return nil
}

// fetchPage requests one page, retrying transient failures with exponential
// backoff. done is true when the page signals the end of the dataset (a 404
// past the last page).
func (c *Client) fetchPage(ctx context.Context, page int, filters, correlationID string) (env pageEnvelope, done bool, err error) {
	u := fmt.Sprintf("%s?page=%d&filters=%s", c.baseURL, page, url.QueryEscape(filters))

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", c.authToken)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-ID", correlationID)

		resp, err := c.http.Do(req)
		if err != nil {
			// Network error or timeout: transient unless the caller is gone.
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Warn().Err(err).Int("page", page).Msg("page request failed, will retry")
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			// Past the last page; clean end of pagination.
			done = true
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			log.Warn().
				Int("status", resp.StatusCode).
				Int("page", page).
				Msg("transient upstream failure, will retry")
			return &StatusError{Code: resp.StatusCode, Body: string(body)}
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: string(body)})
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		e, err := decodePage(body, page)
		if err != nil {
			return backoff.Permanent(err)
		}
		env = e
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx))
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusTooManyRequests || se.Code >= 500) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return pageEnvelope{}, false, err
	}
	return env, done, nil
}

// decodePage accepts both the paginated envelope and a bare JSON array (the
// upstream's single-page shortcut).
func decodePage(body []byte, page int) (pageEnvelope, error) {
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var data []map[string]any
		if err := json.Unmarshal(body, &data); err != nil {
			return pageEnvelope{}, fmt.Errorf("decode page %d: %w", page, err)
		}
		// A bare array carries no pagination metadata; treat it as the
		// one and only page.
		return pageEnvelope{Data: data, CurrentPage: page, LastPage: page}, nil
	}
	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return pageEnvelope{}, fmt.Errorf("decode page %d: %w", page, err)
	}
	if env.CurrentPage == 0 {
		env.CurrentPage = page
	}
	return env, nil
}

// filtersJSON renders the upstream filter expression: pick_up_date bounds
// plus a status in_list clause.
func filtersJSON(q Query) (string, error) {
	type filter struct {
		Type     string `json:"type"`
		Column   string `json:"column"`
		Operator string `json:"operator"`
		Value    any    `json:"value"`
	}
	filters := []filter{
		{Type: "date", Column: "pick_up_date", Operator: "after", Value: q.StartDate.Format("2006-01-02")},
		{Type: "date", Column: "pick_up_date", Operator: "before", Value: q.EndDate.Format("2006-01-02")},
		{Type: "string", Column: "status", Operator: "in_list", Value: q.Statuses},
	}
	b, err := json.Marshal(filters)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
