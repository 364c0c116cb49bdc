package clipper

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"sproutsclip/lib/scrapers/sprouts"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const signedInHTML = `<html><body><div class="greeting">Hi, Pat</div></body></html>`

const offersBody = `{"data": {"userOffersV2": {"offers": [
	{"id": "a", "offerId": "o-a", "couponId": "c-a", "offerRequestKey": "rk-a",
	 "viewSection": {"nameString": "Avocados", "endsOnString": "Sat", "clippedVariant": "false",
	  "detailsFormattedAttributesString": {"sections": [{"text": "save"}]}}},
	{"id": "b", "offerId": "o-b", "couponId": "c-b", "offerRequestKey": "rk-b",
	 "viewSection": {"nameString": "Bread", "endsOnString": "Sun", "clippedVariant": "true",
	  "detailsFormattedAttributesString": {"sections": [{"text": "save"}]}}}
], "nextCursor": ""}}}`

// fakeUpstream stands in for the storefront API; clipStatus decides what each
// successive clip POST answers.
func fakeUpstream(t *testing.T, clipStatus func(call int32) int) *httptest.Server {
	var clipCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/store/sprouts/storefront", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, signedInHTML)
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, offersBody)
			return
		}
		status := clipStatus(clipCalls.Add(1))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		fmt.Fprint(w, `{"data": {"clipOfferForUser": {"success": true}}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testService(t *testing.T, baseUrl string, establish EstablishFunc) (Service, string) {
	dir := t.TempDir()
	svc := NewService(Options{
		Credentials:  sprouts.Credentials{Username: "u", Password: "p"},
		BaseUrl:      baseUrl,
		IdentityFile: filepath.Join(dir, "USER_INFO.txt"),
		HistoryDb:    filepath.Join(dir, "history.db"),
		Establish:    establish,
	})
	return svc, dir
}

func countingEstablish(calls *atomic.Int32, errs ...error) EstablishFunc {
	return func(ctx context.Context, creds sprouts.Credentials, opts sprouts.BrowserOptions) (*sprouts.Session, error) {
		n := calls.Add(1)
		if int(n) <= len(errs) && errs[n-1] != nil {
			return nil, errs[n-1]
		}
		return &sprouts.Session{
			Cookies:     map[string]string{"session-token": "abc"},
			ShopID:      "473512",
			ShopperName: "Pat",
			StoreName:   "Midtown",
		}, nil
	}
}

func TestRunHappyPath(t *testing.T) {
	srv := fakeUpstream(t, func(int32) int { return http.StatusOK })
	var establishCalls atomic.Int32
	svc, dir := testService(t, srv.URL, countingEstablish(&establishCalls))

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, establishCalls.Load())

	require.Len(t, result.Offers, 2)
	require.Len(t, result.Outcomes, 2)
	require.Equal(t, sprouts.StatusClippedNow, result.Outcomes[0].Status)
	require.Equal(t, sprouts.StatusAlreadyClipped, result.Outcomes[1].Status)

	content, err := os.ReadFile(filepath.Join(dir, "USER_INFO.txt"))
	require.NoError(t, err)
	require.Contains(t, string(content), "User Name: Pat")

	db, err := sql.Open("sqlite", filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer db.Close()
	var total, clippedNow int
	var fatal string
	err = db.QueryRow(`SELECT total, clippednow, fatalerror FROM runs`).Scan(&total, &clippedNow, &fatal)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, 1, clippedNow)
	require.Empty(t, fatal)
}

func TestRunReauthenticatesOnceOnExpiry(t *testing.T) {
	// first clip call hits a dead session, everything after succeeds
	srv := fakeUpstream(t, func(call int32) int {
		if call == 1 {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	})
	var establishCalls atomic.Int32
	svc, _ := testService(t, srv.URL, countingEstablish(&establishCalls))

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, establishCalls.Load(), "exactly one re-authentication")

	require.Len(t, result.Outcomes, 2)
	require.Equal(t, sprouts.StatusClippedNow, result.Outcomes[0].Status)
	require.Equal(t, sprouts.StatusAlreadyClipped, result.Outcomes[1].Status)
}

func TestRunSecondExpiryIsFatal(t *testing.T) {
	srv := fakeUpstream(t, func(int32) int { return http.StatusUnauthorized })
	var establishCalls atomic.Int32
	svc, _ := testService(t, srv.URL, countingEstablish(&establishCalls))

	_, err := svc.Run(context.Background())
	require.ErrorIs(t, err, sprouts.ErrSessionExpired)
	require.EqualValues(t, 2, establishCalls.Load(), "no more than one re-authentication per run")
}

func TestRunRetriesEstablishTimeoutOnce(t *testing.T) {
	srv := fakeUpstream(t, func(int32) int { return http.StatusOK })
	var establishCalls atomic.Int32
	svc, _ := testService(t, srv.URL, countingEstablish(&establishCalls, sprouts.ErrEstablishTimeout))

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, establishCalls.Load())
}

func TestRunBadCredentialsFatalAndRecorded(t *testing.T) {
	srv := fakeUpstream(t, func(int32) int { return http.StatusOK })
	var establishCalls atomic.Int32
	svc, dir := testService(t, srv.URL, countingEstablish(&establishCalls,
		sprouts.ErrBadCredentials, sprouts.ErrBadCredentials))

	_, err := svc.Run(context.Background())
	require.ErrorIs(t, err, sprouts.ErrBadCredentials)
	require.EqualValues(t, 1, establishCalls.Load(), "bad credentials are never retried")

	db, err := sql.Open("sqlite", filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer db.Close()
	var fatal string
	require.NoError(t, db.QueryRow(`SELECT fatalerror FROM runs`).Scan(&fatal))
	require.Contains(t, fatal, "rejected credentials")
}

func TestRunSkipClip(t *testing.T) {
	srv := fakeUpstream(t, func(int32) int {
		t.Error("skip-clip run must not issue clip calls")
		return http.StatusOK
	})
	var establishCalls atomic.Int32
	svc, _ := testService(t, srv.URL, countingEstablish(&establishCalls))
	svc.opts.Clip.SkipClip = true

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, sprouts.StatusSkipped, result.Outcomes[0].Status)
	require.Equal(t, sprouts.StatusAlreadyClipped, result.Outcomes[1].Status)
}
