package sprouts

import (
	"context"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

type BrowserOptions struct {
	Headless bool
	// GlobalTimeout bounds the whole login flow, ActionTimeout bounds each
	// individual wait/click inside it.
	GlobalTimeout time.Duration
	ActionTimeout time.Duration
}

func (o BrowserOptions) withDefaults() BrowserOptions {
	if o.GlobalTimeout == 0 {
		o.GlobalTimeout = 3 * time.Minute
	}
	if o.ActionTimeout == 0 {
		o.ActionTimeout = 30 * time.Second
	}
	return o
}

// newBrowser starts a Chrome instance and returns a context scoped to it.
// The returned cancel tears down the timeout, browser and allocator contexts
// in order, killing the Chrome process; callers must invoke it on every exit
// path.
func newBrowser(ctx context.Context, opts BrowserOptions) (context.Context, context.CancelFunc, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,

		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("window-size", "1920,1080"),

		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-component-update", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),

		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			slog.Debug("chrome", "msg", args)
		}),
	)
	timeoutCtx, timeoutCancel := context.WithTimeout(browserCtx, opts.GlobalTimeout)

	cancel := func() {
		timeoutCancel()
		browserCancel()
		allocCancel()
	}

	// force the browser process to actually start so a missing chrome binary
	// fails here instead of in the middle of the login flow
	err := chromedp.Run(timeoutCtx)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return timeoutCtx, cancel, nil
}

// runStep runs a chromedp action sequence under the per-action timeout.
func runStep(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return chromedp.Run(stepCtx, actions...)
}
