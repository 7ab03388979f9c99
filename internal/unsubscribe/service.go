// Package unsubscribe drives a scan: list matching messages page by page,
// pick an unsubscribe link from each, request it, and tally the outcome.
package unsubscribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jal472/gmail-unsubscriber/internal/dispatch"
	"github.com/jal472/gmail-unsubscriber/internal/extract"
	"github.com/jal472/gmail-unsubscriber/internal/gmail"
	"github.com/jal472/gmail-unsubscriber/internal/history"
	"github.com/jal472/gmail-unsubscriber/internal/rate"
)

// DefaultPageSize keeps a page plus its per-message fetches within the
// per-second quota once paced by rate.DefaultPageDelay.
const DefaultPageSize = 100

// Spec describes a single scan.
type Spec struct {
	Filter   string // Gmail search query; empty scans the whole mailbox
	PageSize int
	DryRun   bool // extract links but never request them
}

// LinkExtractor picks at most one candidate from a message.
type LinkExtractor interface {
	Extract(msg gmail.Message) (extract.Candidate, bool, error)
}

// Dispatcher performs an unsubscribe request.
type Dispatcher interface {
	Attempt(ctx context.Context, link string) dispatch.Outcome
}

// Recorder persists runs and attempts. Failures are logged, never fatal.
type Recorder interface {
	BeginRun(ctx context.Context, filter string, dryRun bool, at time.Time) (int64, error)
	RecordAttempt(ctx context.Context, a history.Attempt) error
	FinishRun(ctx context.Context, run history.Run) error
}

// Service wires the Gmail client, extractor and dispatcher together. All
// work happens on the caller's goroutine, one request at a time.
type Service struct {
	Client     gmail.Client
	Extractor  LinkExtractor
	Dispatcher Dispatcher
	Pacer      rate.Limiter // waited on once after every page
	Limiter    rate.Limiter // optional, waited on before every message fetch
	Recorder   Recorder     // optional
	Logger     *slog.Logger
	Clock      func() time.Time
}

// NewService constructs a Service with the default extractor.
func NewService(client gmail.Client, dispatcher Dispatcher, pacer rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if pacer == nil {
		pacer = rate.NewFixedDelay(rate.DefaultPageDelay)
	}
	return &Service{
		Client:     client,
		Extractor:  extract.Extractor{},
		Dispatcher: dispatcher,
		Pacer:      pacer,
		Logger:     logger,
		Clock:      time.Now,
	}
}

// Tally holds the run counters. AttemptsSucceeded <= LinksFound <=
// MessagesScanned always holds.
type Tally struct {
	MessagesListed    int `json:"messages_listed"`
	MessagesScanned   int `json:"messages_scanned"`
	LinksFound        int `json:"links_found"`
	AttemptsSucceeded int `json:"attempts_succeeded"`
}

// Report is the outcome of Run.
type Report struct {
	Tally
	Pages  int  `json:"pages"`
	DryRun bool `json:"dry_run"`
}

// String renders successes against messages scanned, not messages listed.
// A message counts as scanned once its fetch was attempted, whether or not
// it yielded a link.
func (r Report) String() string {
	return fmt.Sprintf("%d out of %d", r.AttemptsSucceeded, r.MessagesScanned)
}

// Run scans every page matching spec. It stops at the first listing error
// or authentication failure and returns the counters gathered so far along
// with the error. A failed run must be restarted from the first page.
func (s *Service) Run(ctx context.Context, spec Spec) (Report, error) {
	pageSize := spec.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > gmail.MaxPageSize {
		pageSize = gmail.MaxPageSize
	}
	query := gmail.Query{Raw: spec.Filter}
	rep := Report{DryRun: spec.DryRun}

	s.Logger.Info("starting scan",
		"filter", spec.Filter,
		"page_size", pageSize,
		"dry_run", spec.DryRun)

	rec := s.beginRun(ctx, spec)
	runErr := s.scan(ctx, query, pageSize, spec.DryRun, rec, &rep)
	rec.finish(ctx, rep, runErr)

	if runErr != nil {
		return rep, runErr
	}
	s.Logger.Info("scan complete",
		"pages", rep.Pages,
		"listed", rep.MessagesListed,
		"scanned", rep.MessagesScanned,
		"links", rep.LinksFound,
		"succeeded", rep.AttemptsSucceeded)
	return rep, nil
}

func (s *Service) scan(
	ctx context.Context,
	query gmail.Query,
	pageSize int,
	dryRun bool,
	rec *runRecorder,
	rep *Report,
) error {
	token := ""
	for {
		page, err := s.Client.List(ctx, query, token, pageSize)
		if err != nil {
			return fmt.Errorf("list messages (page %d): %w", rep.Pages+1, err)
		}
		rep.Pages++
		rep.MessagesListed += len(page.IDs)
		s.Logger.Debug("listed page",
			"page", rep.Pages,
			"messages", len(page.IDs),
			"last", page.NextPageToken == "")

		for _, id := range page.IDs {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("scan interrupted: %w", err)
			}
			if err := s.processMessage(ctx, id, dryRun, rec, &rep.Tally); err != nil {
				return err
			}
		}
		s.Logger.Info("page done",
			"page", rep.Pages,
			"scanned", rep.MessagesScanned,
			"succeeded", rep.AttemptsSucceeded)

		err = s.Pacer.Wait(ctx)
		if page.NextPageToken == "" {
			if err != nil {
				s.Logger.Debug("final page delay interrupted", "error", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("wait between pages: %w", err)
		}
		token = page.NextPageToken
	}
}

// processMessage handles one message. Only authentication failures and
// cancellation are returned; every other problem is logged and absorbed.
func (s *Service) processMessage(
	ctx context.Context,
	id gmail.MessageID,
	dryRun bool,
	rec *runRecorder,
	tally *Tally,
) error {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit message fetch: %w", err)
		}
	}
	msg, err := s.Client.GetFull(ctx, id)
	tally.MessagesScanned++
	if err != nil {
		if gmail.IsAuth(err) {
			return fmt.Errorf("get message %s: %w", id, err)
		}
		s.Logger.Debug("skipping message", "id", string(id), "error", err)
		return nil
	}

	cand, ok, partErr := s.Extractor.Extract(msg)
	if partErr != nil {
		s.Logger.Debug("skipped unreadable parts", "id", string(id), "error", partErr)
	}
	if !ok {
		s.Logger.Debug("no unsubscribe link", "id", string(id))
		return nil
	}
	tally.LinksFound++

	attempt := history.Attempt{
		MessageID: string(id),
		Href:      cand.Href,
		Tag:       cand.Tag.String(),
		DryRun:    dryRun,
	}
	if dryRun {
		s.Logger.Info("dry-run: would unsubscribe",
			"id", string(id), "href", cand.Href, "tag", cand.Tag.String())
		rec.attempt(ctx, attempt)
		return nil
	}

	out := s.Dispatcher.Attempt(ctx, cand.Href)
	attempt.StatusCode, attempt.OK = out.StatusCode, out.OK()
	if out.Err != nil {
		attempt.Error = out.Err.Error()
	}
	if out.OK() {
		tally.AttemptsSucceeded++
	} else {
		s.Logger.Debug("unsubscribe attempt failed",
			"id", string(id),
			"href", cand.Href,
			"status", out.StatusCode,
			"error", out.Err)
	}
	rec.attempt(ctx, attempt)
	return nil
}
