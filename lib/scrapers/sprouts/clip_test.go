package sprouts

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeClipper struct {
	calls []string
	errs  map[string]error
}

func (f *fakeClipper) ClipOffer(ctx context.Context, offer Offer) error {
	f.calls = append(f.calls, offer.ID)
	return f.errs[offer.ID]
}

func threeOffers() []Offer {
	return []Offer{
		{ID: "a", Name: "Avocados", Clipped: false},
		{ID: "b", Name: "Bread", Clipped: true},
		{ID: "c", Name: "Coffee", Clipped: false},
	}
}

func TestClipAllOrdering(t *testing.T) {
	clipper := &fakeClipper{}
	outcomes, err := ClipAll(context.Background(), clipper, threeOffers(), ClipOptions{})
	require.NoError(t, err)

	expected := []ClipOutcome{
		{OfferID: "a", Name: "Avocados", Status: StatusClippedNow},
		{OfferID: "b", Name: "Bread", Status: StatusAlreadyClipped},
		{OfferID: "c", Name: "Coffee", Status: StatusClippedNow},
	}
	if diff := cmp.Diff(expected, outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"a", "c"}, clipper.calls)
}

func TestClipAllPerOfferFailureIsNotFatal(t *testing.T) {
	clipper := &fakeClipper{errs: map[string]error{"c": fmt.Errorf("server exploded")}}
	outcomes, err := ClipAll(context.Background(), clipper, threeOffers(), ClipOptions{})
	require.NoError(t, err)

	expected := []ClipOutcome{
		{OfferID: "a", Name: "Avocados", Status: StatusClippedNow},
		{OfferID: "b", Name: "Bread", Status: StatusAlreadyClipped},
		{OfferID: "c", Name: "Coffee", Status: StatusFailed, Detail: "server exploded"},
	}
	if diff := cmp.Diff(expected, outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestClipAllNeverClipsAlreadyClipped(t *testing.T) {
	offers := []Offer{
		{ID: "a", Clipped: true},
		{ID: "b", Clipped: true},
	}
	clipper := &fakeClipper{}
	outcomes, err := ClipAll(context.Background(), clipper, offers, ClipOptions{})
	require.NoError(t, err)
	require.Empty(t, clipper.calls)
	for _, o := range outcomes {
		require.Equal(t, StatusAlreadyClipped, o.Status)
	}
}

func TestClipAllIdempotentSecondRun(t *testing.T) {
	offers := threeOffers()
	clipper := &fakeClipper{}

	first, err := ClipAll(context.Background(), clipper, offers, ClipOptions{})
	require.NoError(t, err)
	firstCalls := len(clipper.calls)
	require.Equal(t, 2, firstCalls)

	// the next catalog fetch reports everything the first run clipped
	for i, o := range first {
		if o.Status == StatusClippedNow {
			offers[i].Clipped = true
		}
	}

	second, err := ClipAll(context.Background(), clipper, offers, ClipOptions{})
	require.NoError(t, err)
	require.Len(t, clipper.calls, firstCalls, "second run must issue zero new clip calls")
	for _, o := range second {
		require.Equal(t, StatusAlreadyClipped, o.Status)
	}
}

func TestClipAllDryRun(t *testing.T) {
	clipper := &fakeClipper{}
	outcomes, err := ClipAll(context.Background(), clipper, threeOffers(), ClipOptions{DryRun: true})
	require.NoError(t, err)
	require.Empty(t, clipper.calls, "dry run must not touch the network")

	statuses := []ClipStatus{outcomes[0].Status, outcomes[1].Status, outcomes[2].Status}
	require.Equal(t, []ClipStatus{StatusClippedNow, StatusAlreadyClipped, StatusClippedNow}, statuses)
}

func TestClipAllSkipClip(t *testing.T) {
	clipper := &fakeClipper{}
	outcomes, err := ClipAll(context.Background(), clipper, threeOffers(), ClipOptions{SkipClip: true})
	require.NoError(t, err)
	require.Empty(t, clipper.calls)

	statuses := []ClipStatus{outcomes[0].Status, outcomes[1].Status, outcomes[2].Status}
	require.Equal(t, []ClipStatus{StatusSkipped, StatusAlreadyClipped, StatusSkipped}, statuses)
}

func TestClipAllSessionExpiryAbortsBatch(t *testing.T) {
	clipper := &fakeClipper{errs: map[string]error{
		"c": fmt.Errorf("clip: %w", ErrSessionExpired),
	}}
	outcomes, err := ClipAll(context.Background(), clipper, threeOffers(), ClipOptions{})
	require.ErrorIs(t, err, ErrSessionExpired)

	// a and b were processed, c and anything after it were not
	expected := []ClipOutcome{
		{OfferID: "a", Name: "Avocados", Status: StatusClippedNow},
		{OfferID: "b", Name: "Bread", Status: StatusAlreadyClipped},
	}
	if diff := cmp.Diff(expected, outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	require.False(t, errors.Is(err, ErrUpstreamUnavailable))
}
