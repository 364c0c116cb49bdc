package clipper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sproutsclip/lib/scrapers/sprouts"

	"github.com/stretchr/testify/require"
)

func TestHistoryRecordRun(t *testing.T) {
	history, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer history.Close()

	result := RunResult{
		Session: &sprouts.Session{ShopperName: "Pat", StoreName: "Midtown"},
		Outcomes: []sprouts.ClipOutcome{
			{OfferID: "a", Name: "Avocados", Status: sprouts.StatusClippedNow},
			{OfferID: "b", Name: "Bread", Status: sprouts.StatusFailed, Detail: "boom"},
		},
	}

	runID, err := history.RecordRun(context.Background(), time.Now(), result, nil)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	var shopper string
	var failed int
	err = history.db.QueryRow(`SELECT shopper, failed FROM runs WHERE id = ?`, runID).
		Scan(&shopper, &failed)
	require.NoError(t, err)
	require.Equal(t, "Pat", shopper)
	require.Equal(t, 1, failed)

	var outcomes int
	err = history.db.QueryRow(`SELECT COUNT(*) FROM run_outcomes WHERE runid = ?`, runID).
		Scan(&outcomes)
	require.NoError(t, err)
	require.Equal(t, 2, outcomes)
}

func TestHistorySuccessiveRunsAppend(t *testing.T) {
	history, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer history.Close()

	for i := 0; i < 3; i++ {
		_, err := history.RecordRun(context.Background(), time.Now(), RunResult{}, nil)
		require.NoError(t, err)
	}

	var runs int
	require.NoError(t, history.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs))
	require.Equal(t, 3, runs)
}
