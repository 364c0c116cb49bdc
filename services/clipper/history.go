package clipper

import (
	"context"
	"database/sql"
	"time"

	"sproutsclip/lib/report"

	"github.com/mazen160/go-random"
	_ "modernc.org/sqlite"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	startedat INTEGER NOT NULL,
	shopper TEXT,
	store TEXT,
	total INTEGER NOT NULL,
	clippednow INTEGER NOT NULL,
	alreadyclipped INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	fatalerror TEXT
);
CREATE TABLE IF NOT EXISTS run_outcomes (
	runid TEXT NOT NULL REFERENCES runs(id),
	offerid TEXT NOT NULL,
	name TEXT,
	status TEXT NOT NULL,
	detail TEXT
);
`

// History is the advisory run log. Rows are written at the end of each run
// and only ever read by operators.
type History struct {
	db *sql.DB
}

func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, err
	}
	return &History{db: db}, nil
}

func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) RecordRun(ctx context.Context, startedAt time.Time, result RunResult, runErr error) (string, error) {
	runID, err := random.String(8)
	if err != nil {
		return "", err
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	counts := report.Count(result.Outcomes)
	shopper, store := "", ""
	if result.Session != nil {
		shopper = result.Session.ShopperName
		store = result.Session.StoreName
	}
	fatal := ""
	if runErr != nil {
		fatal = runErr.Error()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, startedat, shopper, store, total, clippednow, alreadyclipped, skipped, failed, fatalerror)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, startedAt.Unix(), shopper, store,
		counts.Total, counts.ClippedNow, counts.AlreadyClipped, counts.Skipped, counts.Failed,
		fatal,
	)
	if err != nil {
		return "", err
	}

	for _, o := range result.Outcomes {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_outcomes (runid, offerid, name, status, detail) VALUES (?, ?, ?, ?, ?)`,
			runID, o.OfferID, o.Name, string(o.Status), o.Detail,
		)
		if err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID, nil
}
