package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// InitSlog configures the default logger. When logDir is non-empty, logs are
// duplicated into <logDir>/sproutsclip.log so scheduled runs leave a trail.
func InitSlog(verbose bool, logDir string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			f, err := os.OpenFile(
				filepath.Join(logDir, "sproutsclip.log"),
				os.O_CREATE|os.O_APPEND|os.O_WRONLY,
				0o644,
			)
			if err == nil {
				out = io.MultiWriter(os.Stderr, f)
			}
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	})))
}
