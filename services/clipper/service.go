package clipper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sproutsclip/lib/scrapers/sprouts"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/clipper")

// EstablishFunc matches sprouts.EstablishSession; tests substitute a fake so
// the run can be exercised without a browser.
type EstablishFunc func(ctx context.Context, creds sprouts.Credentials, opts sprouts.BrowserOptions) (*sprouts.Session, error)

type Options struct {
	Credentials sprouts.Credentials
	// BaseUrl defaults to the production storefront.
	BaseUrl string
	Browser sprouts.BrowserOptions
	Clip    sprouts.ClipOptions
	// IdentityFile, when set, receives the advisory shopper identity record.
	IdentityFile string
	// HistoryDb, when set, is the sqlite file run summaries are appended to.
	// Advisory only; never read back as input.
	HistoryDb string
	// Establish defaults to sprouts.EstablishSession.
	Establish EstablishFunc
}

type Service struct {
	opts Options
}

func NewService(opts Options) Service {
	if opts.BaseUrl == "" {
		opts.BaseUrl = sprouts.BaseURL
	}
	if opts.Establish == nil {
		opts.Establish = sprouts.EstablishSession
	}
	return Service{opts: opts}
}

type RunResult struct {
	Session  *sprouts.Session
	Offers   []sprouts.Offer
	Outcomes []sprouts.ClipOutcome
}

// Run performs one full pass: login, catalog fetch, clipping. Per-offer clip
// failures are recorded in the outcomes and do not fail the run; the error
// taxonomy of the sprouts package does. A session expiry anywhere triggers at
// most one re-authentication for the whole run.
func (s Service) Run(ctx context.Context) (result RunResult, err error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	startedAt := time.Now()
	defer func() {
		if recordErr := s.recordHistory(ctx, startedAt, result, err); recordErr != nil {
			slog.WarnContext(ctx, "failed to record run history", "err", recordErr)
		}
	}()

	session, err := s.establishWithRetry(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to establish session")
		return result, err
	}
	result.Session = session
	slog.InfoContext(ctx, "logged in",
		"shopper", session.ShopperName,
		"store", session.StoreName,
		"shop_id", session.ShopID,
	)

	if s.opts.IdentityFile != "" {
		if err := sprouts.WriteIdentityFile(session, s.opts.IdentityFile); err != nil {
			slog.WarnContext(ctx, "failed to write identity file", "err", err)
		}
	}

	client, err := sprouts.NewClient(s.opts.BaseUrl, session)
	if err != nil {
		return result, err
	}

	// one re-authentication is allowed per run; a second expiry is fatal
	reauthed := false
	reauth := func() error {
		if reauthed {
			return fmt.Errorf("session expired again after re-authentication: %w", sprouts.ErrSessionExpired)
		}
		reauthed = true
		slog.WarnContext(ctx, "session expired mid-run, re-authenticating")
		session, err = s.establishWithRetry(ctx)
		if err != nil {
			return err
		}
		result.Session = session
		client, err = sprouts.NewClient(s.opts.BaseUrl, session)
		return err
	}

	if err := client.Validate(ctx); err != nil {
		if !errors.Is(err, sprouts.ErrSessionExpired) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session validation failed")
			return result, err
		}
		if err := reauth(); err != nil {
			return result, err
		}
	}

	offers, err := client.ListOffers(ctx)
	if errors.Is(err, sprouts.ErrSessionExpired) {
		if err = reauth(); err != nil {
			return result, err
		}
		offers, err = client.ListOffers(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog fetch failed")
		return result, err
	}
	result.Offers = offers
	slog.InfoContext(ctx, "fetched offer catalog", "count", len(offers))

	outcomes, err := sprouts.ClipAll(ctx, client, offers, s.opts.Clip)
	if errors.Is(err, sprouts.ErrSessionExpired) {
		if err = reauth(); err != nil {
			result.Outcomes = outcomes
			return result, err
		}
		// resume with the offers the aborted batch never reached
		var more []sprouts.ClipOutcome
		more, err = sprouts.ClipAll(ctx, client, offers[len(outcomes):], s.opts.Clip)
		outcomes = append(outcomes, more...)
	}
	result.Outcomes = outcomes
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "clipping aborted")
		return result, err
	}

	return result, nil
}

// establishWithRetry retries once with a fresh browser when the post-login
// indicator timed out; every other failure is immediately fatal.
func (s Service) establishWithRetry(ctx context.Context) (*sprouts.Session, error) {
	session, err := s.opts.Establish(ctx, s.opts.Credentials, s.opts.Browser)
	if errors.Is(err, sprouts.ErrEstablishTimeout) {
		slog.WarnContext(ctx, "login timed out, retrying with a fresh browser", "err", err)
		session, err = s.opts.Establish(ctx, s.opts.Credentials, s.opts.Browser)
	}
	return session, err
}

func (s Service) recordHistory(ctx context.Context, startedAt time.Time, result RunResult, runErr error) error {
	if s.opts.HistoryDb == "" {
		return nil
	}
	history, err := OpenHistory(s.opts.HistoryDb)
	if err != nil {
		return err
	}
	defer history.Close()

	runID, err := history.RecordRun(ctx, startedAt, result, runErr)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "recorded run history", "run_id", runID)
	return nil
}
