package sprouts

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Offer is one clippable coupon as reported by the catalog. Clipped reflects
// server truth at fetch time only; it may be stale by the time clipping is
// attempted.
type Offer struct {
	ID              string
	OfferID         string
	CouponID        string
	OfferRequestKey string
	Name            string
	Description     string
	EndsOn          string
	Clipped         bool
	ImageURL        string
}

func (o Offer) String() string {
	status := "AVAILABLE"
	if o.Clipped {
		status = "CLIPPED"
	}
	return fmt.Sprintf("[%s] %s - %s (expires: %s)", status, o.Name, o.Description, o.EndsOn)
}

const offersPageSize = 100

// upstream pagination is not guaranteed gap-free when offers mutate between
// page fetches, so cap the loop rather than trusting the cursor to terminate
const maxOfferPages = 50

type rawOffer struct {
	ID              string `json:"id"`
	OfferID         string `json:"offerId"`
	CouponID        string `json:"couponId"`
	OfferRequestKey string `json:"offerRequestKey"`
	ViewSection     struct {
		NameString     string `json:"nameString"`
		EndsOnString   string `json:"endsOnString"`
		ClippedVariant string `json:"clippedVariant"`
		Details        struct {
			Sections []struct {
				Text string `json:"text"`
			} `json:"sections"`
		} `json:"detailsFormattedAttributesString"`
		OfferImage struct {
			URL string `json:"url"`
		} `json:"offerImage"`
	} `json:"viewSection"`
}

type userOffersPayload struct {
	UserOffersV2 struct {
		Offers     []rawOffer `json:"offers"`
		NextCursor string     `json:"nextCursor"`
	} `json:"userOffersV2"`
}

// ListOffers fetches the whole offer catalog for the session's shopper,
// page by page in stable BEST_MATCH order, deduplicated by offer id.
func (c *Client) ListOffers(ctx context.Context) ([]Offer, error) {
	ctx, span := tracer.Start(ctx, "ListOffers")
	defer span.End()

	var offers []Offer
	seen := map[string]bool{}
	cursor := ""

	for page := 0; page < maxOfferPages; page++ {
		variables := map[string]any{
			"shopId":       c.session.ShopID,
			"offerSources": []string{"ic_inmar"},
			"limit":        offersPageSize,
			"cursor":       cursor,
			"filtering":    []any{},
			"sorting":      map[string]string{"key": "BEST_MATCH"},
		}

		var payload userOffersPayload
		if err := c.Call(ctx, opFindOffers, variables, &payload); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, fmt.Sprintf("fetch failed on page %d", page))
			// no partial list: a dead session mid-fetch fails the whole fetch
			return nil, fmt.Errorf("list offers (page %d): %w", page, err)
		}

		for _, raw := range payload.UserOffersV2.Offers {
			offer, err := parseOffer(raw)
			if err != nil {
				slog.WarnContext(ctx, "skipping unparseable offer", "err", err)
				continue
			}
			if seen[offer.ID] {
				continue
			}
			seen[offer.ID] = true
			offers = append(offers, offer)
		}

		cursor = payload.UserOffersV2.NextCursor
		if cursor == "" || len(payload.UserOffersV2.Offers) == 0 {
			break
		}
	}

	span.SetAttributes(attribute.Int("offer_count", len(offers)))
	return offers, nil
}

func parseOffer(raw rawOffer) (Offer, error) {
	if raw.ID == "" {
		return Offer{}, fmt.Errorf("offer without id (name %q)", raw.ViewSection.NameString)
	}

	description := ""
	if sections := raw.ViewSection.Details.Sections; len(sections) > 0 {
		description = sections[0].Text
	}

	return Offer{
		ID:              raw.ID,
		OfferID:         raw.OfferID,
		CouponID:        raw.CouponID,
		OfferRequestKey: raw.OfferRequestKey,
		Name:            raw.ViewSection.NameString,
		Description:     description,
		EndsOn:          raw.ViewSection.EndsOnString,
		Clipped:         raw.ViewSection.ClippedVariant == "true",
		ImageURL:        raw.ViewSection.OfferImage.URL,
	}, nil
}

type clipOfferPayload struct {
	ClipOfferForUser struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	} `json:"clipOfferForUser"`
}

// ClipOffer claims one offer for the session's shopper.
func (c *Client) ClipOffer(ctx context.Context, offer Offer) error {
	ctx, span := tracer.Start(ctx, "ClipOffer")
	defer span.End()
	span.SetAttributes(attribute.String("offer_id", offer.ID))

	variables := map[string]any{
		"shopId":          c.session.ShopID,
		"offerId":         offer.OfferID,
		"couponId":        offer.CouponID,
		"offerRequestKey": offer.OfferRequestKey,
	}

	var payload clipOfferPayload
	if err := c.Call(ctx, opClipOffer, variables, &payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "clip call failed")
		return err
	}
	if !payload.ClipOfferForUser.Success {
		msg := payload.ClipOfferForUser.Message
		if msg == "" {
			msg = "upstream reported failure without a message"
		}
		span.SetStatus(codes.Error, msg)
		return fmt.Errorf("clip rejected: %s", msg)
	}
	return nil
}
