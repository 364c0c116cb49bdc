package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"sproutsclip/lib/report"
	"sproutsclip/lib/scrapers/sprouts"
	"sproutsclip/lib/telemetry"
	"sproutsclip/services/clipper"

	"github.com/spf13/cobra"
)

var (
	flagHeadless   bool
	flagNoHeadless bool
	flagDryRun     bool
	flagSkipClip   bool
	flagVerbose    bool
)

func init() {
	rootCmd.Flags().BoolVar(&flagHeadless, "headless", true, "Run the browser without a visible window")
	rootCmd.Flags().BoolVar(&flagNoHeadless, "no-headless", false, "Show the browser window (overrides --headless)")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Report intended clips without clipping, print the report instead of emailing it")
	rootCmd.Flags().BoolVar(&flagSkipClip, "skip-clip", false, "List offers only, don't clip anything")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:          "sproutsclip",
	Short:        "sproutsclip clips every available Sprouts digital coupon and emails a summary.",
	SilenceUsage: true,
	RunE:         run,
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	telemetry.InitSlog(flagVerbose, os.Getenv("SPROUTS_LOG_DIR"))
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	creds := sprouts.Credentials{
		Username: os.Getenv("SPROUTS_USERNAME"),
		Password: os.Getenv("SPROUTS_PASSWORD"),
	}
	if creds.Username == "" || creds.Password == "" {
		return fmt.Errorf("SPROUTS_USERNAME and SPROUTS_PASSWORD must be set")
	}

	mailer := report.Mailer{
		Smtp:      cfg.Smtp,
		Sender:    cfg.Sender,
		Recipient: cfg.Recipient,
	}

	svc := clipper.NewService(clipper.Options{
		Credentials: creds,
		BaseUrl:     cfg.BaseUrl,
		Browser: sprouts.BrowserOptions{
			Headless: flagHeadless && !flagNoHeadless,
		},
		Clip: sprouts.ClipOptions{
			DryRun:   flagDryRun,
			SkipClip: flagSkipClip,
		},
		IdentityFile: cfg.IdentityFile,
		HistoryDb:    cfg.HistoryDb,
	})

	result, err := svc.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "run failed", "err", err)
		if mailer.Configured() && !flagDryRun {
			if mailErr := mailer.SendFailure(err); mailErr != nil {
				slog.ErrorContext(ctx, "failed to send failure notification", "err", mailErr)
			}
		}
		return err
	}

	counts := report.Count(result.Outcomes)
	slog.InfoContext(ctx, "run complete",
		"total", counts.Total,
		"clipped_now", counts.ClippedNow,
		"already_clipped", counts.AlreadyClipped,
		"skipped", counts.Skipped,
		"failed", counts.Failed,
	)

	body := report.Build(result.Session, result.Outcomes)
	switch {
	case flagDryRun:
		fmt.Println(report.Table(result.Outcomes))
		fmt.Println()
		fmt.Println(body)
	case mailer.Configured():
		if err := mailer.SendReport(report.Subject(result.Outcomes), body); err != nil {
			slog.ErrorContext(ctx, "failed to send report email", "err", err)
		}
	default:
		slog.WarnContext(ctx, "email not configured, report only recorded locally")
	}

	// individual failed clips are reported, not fatal; next scheduled run
	// retries them naturally
	return nil
}
