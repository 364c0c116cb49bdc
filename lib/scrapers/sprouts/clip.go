package sprouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type ClipStatus string

const (
	StatusClippedNow     ClipStatus = "clipped_now"
	StatusAlreadyClipped ClipStatus = "already_clipped"
	StatusSkipped        ClipStatus = "skipped"
	StatusFailed         ClipStatus = "failed"
)

// ClipOutcome records what happened to one offer. Immutable once created.
type ClipOutcome struct {
	OfferID string
	Name    string
	Status  ClipStatus
	Detail  string
}

type ClipOptions struct {
	// DryRun reports intended actions without calling the clip operation.
	DryRun bool
	// SkipClip lists only: every unclipped offer becomes a skipped outcome.
	SkipClip bool
}

// Clipper is the one operation the orchestrator needs from the API client.
type Clipper interface {
	ClipOffer(ctx context.Context, offer Offer) error
}

// ClipAll processes offers in catalog order and collects one outcome per
// offer. Clipping an already-clipped offer is never attempted. A per-offer
// failure is recorded and iteration continues; a session expiry aborts the
// remaining batch and is returned alongside the outcomes gathered so far.
func ClipAll(ctx context.Context, clipper Clipper, offers []Offer, opts ClipOptions) ([]ClipOutcome, error) {
	ctx, span := tracer.Start(ctx, "ClipAll")
	defer span.End()
	span.SetAttributes(
		attribute.Int("offer_count", len(offers)),
		attribute.Bool("dry_run", opts.DryRun),
		attribute.Bool("skip_clip", opts.SkipClip),
	)

	outcomes := make([]ClipOutcome, 0, len(offers))
	for _, offer := range offers {
		switch {
		case offer.Clipped:
			outcomes = append(outcomes, outcome(offer, StatusAlreadyClipped, ""))
		case opts.SkipClip:
			outcomes = append(outcomes, outcome(offer, StatusSkipped, ""))
		case opts.DryRun:
			slog.InfoContext(ctx, "dry run, would clip", "offer", offer.Name)
			outcomes = append(outcomes, outcome(offer, StatusClippedNow, "dry run"))
		default:
			err := clipper.ClipOffer(ctx, offer)
			if errors.Is(err, ErrSessionExpired) {
				span.SetStatus(codes.Error, "session expired mid-batch")
				return outcomes, fmt.Errorf("clipping %q: %w", offer.Name, err)
			}
			if err != nil {
				slog.WarnContext(ctx, "clip failed", "offer", offer.Name, "err", err)
				outcomes = append(outcomes, outcome(offer, StatusFailed, err.Error()))
				continue
			}
			slog.InfoContext(ctx, "clipped", "offer", offer.Name)
			outcomes = append(outcomes, outcome(offer, StatusClippedNow, ""))
		}
	}
	return outcomes, nil
}

func outcome(offer Offer, status ClipStatus, detail string) ClipOutcome {
	return ClipOutcome{
		OfferID: offer.ID,
		Name:    offer.Name,
		Status:  status,
		Detail:  detail,
	}
}
