// Package syncer coordinates the sync pipeline: fetch from the upstream
// source, durably buffer each record, then drain the buffer into the store
// through the idempotent upsert reconciler.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kaimana/rentalsync/internal/buffer"
	"github.com/kaimana/rentalsync/internal/reservation"
	"github.com/kaimana/rentalsync/internal/store"
	"github.com/kaimana/rentalsync/internal/upstream"
)

// DefaultStatuses is the status filter applied when the caller supplies none.
var DefaultStatuses = []string{"rental", "completed"}

// Source produces reservation payloads for a date window and status set.
// *upstream.Client is the production implementation.
type Source interface {
	Fetch(ctx context.Context, q upstream.Query, visit func(payload map[string]any) error) error
}

// Request are the parameters of one sync run.
type Request struct {
	StartDate time.Time
	EndDate   time.Time
	Statuses  []string
}

// ParseRequest validates raw query parameters into a Request. It fails fast
// so a bad request never reaches the network or the buffer.
func ParseRequest(startDate, endDate, status string) (Request, error) {
	if startDate == "" || endDate == "" {
		return Request{}, errors.New("start_date and end_date are required")
	}
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return Request{}, fmt.Errorf("invalid start_date %q: expected YYYY-MM-DD", startDate)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return Request{}, fmt.Errorf("invalid end_date %q: expected YYYY-MM-DD", endDate)
	}

	req := Request{StartDate: start, EndDate: end, Statuses: splitStatuses(status)}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate enforces the request invariants: ordered dates and a non-empty
// status set.
func (r Request) Validate() error {
	if r.StartDate.After(r.EndDate) {
		return errors.New("start_date must not be after end_date")
	}
	if len(r.Statuses) == 0 {
		return errors.New("status set must not be empty")
	}
	return nil
}

func splitStatuses(s string) []string {
	if s == "" {
		return append([]string(nil), DefaultStatuses...)
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Failure names one record (or one unreachable page) that did not make it
// into the store, with its cause.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Result is the aggregate outcome of a sync run. A sync is best-effort
// complete: partial failures are reported here, never silently swallowed.
type Result struct {
	Processed int       `json:"total_processed"`
	Inserted  int       `json:"inserted"`
	Replaced  int       `json:"replaced"`
	Failed    []Failure `json:"failed"`
}

// Engine owns the sync pipeline and its retry/timeout policy.
type Engine struct {
	source Source
	buf    *buffer.Buffer
	store  store.Store

	// catch-up policy for exports
	catchupWindow  time.Duration
	catchupTimeout time.Duration
}

// New wires the pipeline. The buffer instance is explicit: there is no
// process-wide well-known buffer location.
func New(source Source, buf *buffer.Buffer, st store.Store) *Engine {
	return &Engine{
		source:         source,
		buf:            buf,
		store:          st,
		catchupWindow:  60 * 24 * time.Hour,
		catchupTimeout: 2 * time.Minute,
	}
}

// Sync runs one full reconciliation: fetch -> buffer append per record ->
// drain -> upsert. One bad record never aborts the rest; a permanently
// failed page aborts only the fetch, and everything buffered before it is
// still committed.
func (e *Engine) Sync(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	runID := uuid.New().String()
	logger := log.With().Str("sync_run", runID).Logger()
	logger.Info().
		Str("start_date", req.StartDate.Format("2006-01-02")).
		Str("end_date", req.EndDate.Format("2006-01-02")).
		Strs("statuses", req.Statuses).
		Msg("sync started")

	var res Result

	q := upstream.Query{StartDate: req.StartDate, EndDate: req.EndDate, Statuses: req.Statuses}
	err := e.source.Fetch(ctx, q, func(payload map[string]any) error {
		res.Processed++
		norm := reservation.Normalize(payload)
		r, err := reservation.FromPayload(norm)
		if err != nil {
			logger.Warn().Err(err).Msg("skipping record without id")
			res.Failed = append(res.Failed, Failure{Reason: err.Error()})
			return nil
		}
		if err := e.buf.Append(r.ID, r.Payload); err != nil {
			// Fatal for this record only; keep fetching the rest.
			logger.Error().Err(err).Str("id", r.ID).Msg("buffer append failed")
			res.Failed = append(res.Failed, Failure{ID: r.ID, Reason: "buffer append failed: " + err.Error()})
			return nil
		}
		return nil
	})
	if err != nil {
		// The ids on an unreachable page were never observed, so the
		// failure is reported against the page itself. Buffered work
		// from earlier pages still commits below.
		var pe *upstream.PageError
		if errors.As(err, &pe) {
			reason := pe.Err.Error()
			if errors.Is(err, upstream.ErrUnavailable) {
				reason = "upstream unavailable"
			}
			logger.Error().Err(err).Int("page", pe.Page).Msg("fetch aborted")
			res.Failed = append(res.Failed, Failure{
				ID:     fmt.Sprintf("page:%d", pe.Page),
				Reason: reason,
			})
		} else {
			logger.Error().Err(err).Msg("fetch aborted")
			res.Failed = append(res.Failed, Failure{Reason: err.Error()})
		}
	}

	ins, rep, failed, derr := e.drain(ctx, &logger)
	res.Inserted += ins
	res.Replaced += rep
	res.Failed = append(res.Failed, failed...)
	if derr != nil {
		return res, derr
	}

	logger.Info().
		Int("processed", res.Processed).
		Int("inserted", res.Inserted).
		Int("replaced", res.Replaced).
		Int("failed", len(res.Failed)).
		Msg("sync finished")
	return res, nil
}

// Replay drains entries left over from an interrupted prior run. Called once
// at startup before any new fetches begin; this is the crash-recovery path.
func (e *Engine) Replay(ctx context.Context) (Result, error) {
	pending := e.buf.Pending()
	if pending == 0 {
		return Result{}, nil
	}
	logger := log.With().Str("sync_run", "startup-replay").Logger()
	logger.Info().Int64("pending", pending).Msg("replaying buffered writes from prior run")

	var res Result
	ins, rep, failed, err := e.drain(ctx, &logger)
	res.Inserted, res.Replaced, res.Failed = ins, rep, failed
	return res, err
}

// CatchUp performs the bounded best-effort sync that precedes an export: the
// trailing window through now, with its own timeout so a slow upstream cannot
// stall the export indefinitely.
func (e *Engine) CatchUp(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.catchupTimeout)
	defer cancel()

	now := time.Now().UTC()
	req := Request{
		StartDate: now.Add(-e.catchupWindow),
		EndDate:   now,
		Statuses:  append([]string(nil), DefaultStatuses...),
	}
	return e.Sync(ctx, req)
}

// drain applies buffered entries to the store. Failed entries stay in the
// buffer for a later drain; their ids are reported in the result.
func (e *Engine) drain(ctx context.Context, logger *zerolog.Logger) (inserted, replaced int, failed []Failure, err error) {
	err = e.buf.Drain(func(entry buffer.Entry) error {
		outcome, uerr := e.store.Upsert(ctx, entry.ID, entry.Payload)
		if uerr != nil {
			failed = append(failed, Failure{ID: entry.ID, Reason: uerr.Error()})
			return uerr
		}
		if outcome == store.OutcomeInserted {
			inserted++
		} else {
			replaced++
		}
		logger.Debug().Str("id", entry.ID).Str("outcome", outcome.String()).Msg("reservation committed")
		return nil
	})
	return inserted, replaced, failed, err
}
