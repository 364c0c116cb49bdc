package sprouts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel/codes"
)

const (
	BaseURL        = "https://shop.sprouts.com"
	storefrontPath = "/store/sprouts/storefront"

	// fallback when neither cookies nor the URL reveal the shop id
	defaultShopID = "473512"
)

type Credentials struct {
	Username string
	Password string
}

// Session is the descriptor bridged from the browser login into direct API
// calls. It is a plain value with no reference back into the browser; it is
// either fully populated or EstablishSession fails.
type Session struct {
	// Cookies holds every cookie scoped to the storefront domain at the time
	// of extraction. The exact set the API needs changes without notice
	// upstream, so the whole jar is carried instead of an allowlist.
	Cookies     map[string]string
	ShopID      string
	ShopperName string
	StoreName   string
}

// selectors the login flow depends on; a missing one fails the run with
// ErrPageStructure so operators know the site drifted
const (
	selRejectCookies = `//button[contains(., "REJECT COOKIES")]`
	selConfirmShop   = `//button[contains(., "Confirm")]`
	selSignInLink    = `//a[contains(., "Sign In")]`
	selEmailInput    = `input[type="email"]`
	selPasswordInput = `input[type="password"]`
	selLoginButton   = `//button[contains(., "Login")]`
)

// EstablishSession drives a Chrome instance through the storefront login flow
// and harvests the authenticated session. The browser is torn down on every
// exit path.
func EstablishSession(ctx context.Context, creds Credentials, opts BrowserOptions) (*Session, error) {
	ctx, span := tracer.Start(ctx, "EstablishSession")
	defer span.End()

	if creds.Username == "" || creds.Password == "" {
		err := fmt.Errorf("%w: missing username or password", ErrBadCredentials)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	opts = opts.withDefaults()
	bctx, cancel, err := newBrowser(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start browser")
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer cancel()

	session, err := loginFlow(bctx, creds, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login flow failed")
		return nil, err
	}
	return session, nil
}

func loginFlow(bctx context.Context, creds Credentials, opts BrowserOptions) (*Session, error) {
	err := runStep(bctx, opts.ActionTimeout*2,
		chromedp.Navigate(BaseURL+storefrontPath),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return nil, classifyStepErr(err, "storefront")
	}

	// the page may refresh after each of these dialogs, hence separate steps
	if err := clickStep(bctx, opts, selRejectCookies, "cookie dialog"); err != nil {
		return nil, err
	}
	if err := clickStep(bctx, opts, selConfirmShop, "shop mode confirmation"); err != nil {
		return nil, err
	}
	if err := clickStep(bctx, opts, selSignInLink, "sign in link"); err != nil {
		return nil, err
	}

	err = runStep(bctx, opts.ActionTimeout,
		chromedp.WaitVisible(selEmailInput, chromedp.ByQuery),
		chromedp.Click(selEmailInput, chromedp.ByQuery),
		chromedp.SendKeys(selEmailInput, creds.Username, chromedp.ByQuery),
		chromedp.Click(selPasswordInput, chromedp.ByQuery),
		chromedp.SendKeys(selPasswordInput, creds.Password, chromedp.ByQuery),
	)
	if err != nil {
		return nil, classifyStepErr(err, "login form")
	}

	var loginURL string
	if err := chromedp.Run(bctx, chromedp.Location(&loginURL)); err != nil {
		return nil, classifyStepErr(err, "login url")
	}

	err = runStep(bctx, opts.ActionTimeout, chromedp.Click(selLoginButton, chromedp.BySearch))
	if err != nil {
		return nil, classifyStepErr(err, "login button")
	}

	if err := waitForLogin(bctx, opts.ActionTimeout*2, loginURL); err != nil {
		return nil, err
	}

	cookies, err := storefrontCookies(bctx)
	if err != nil {
		return nil, fmt.Errorf("extract cookies: %w", err)
	}

	var currentURL string
	_ = chromedp.Run(bctx, chromedp.Location(&currentURL))

	session := &Session{
		Cookies:     cookies,
		ShopID:      resolveShopID(cookies, currentURL),
		ShopperName: textBySelectors(bctx, shopperNameSelectors, greetingRegex),
		StoreName:   textBySelectors(bctx, storeNameSelectors, nil),
	}
	return session, nil
}

func clickStep(bctx context.Context, opts BrowserOptions, selector, what string) error {
	err := runStep(bctx, opts.ActionTimeout,
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Click(selector, chromedp.BySearch),
		// let the page settle; both dialogs can trigger a reload
		chromedp.Sleep(2*time.Second),
	)
	if err != nil {
		return classifyStepErr(err, what)
	}
	return nil
}

// classifyStepErr maps pre-login step failures: a wait that never resolved
// means the selector is gone, i.e. the page structure changed.
func classifyStepErr(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrPageStructure, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// waitForLogin polls the location until the browser lands back on the
// storefront. Distinguishes bad credentials (still parked on the login page)
// from plain slowness.
func waitForLogin(bctx context.Context, timeout time.Duration, loginURL string) error {
	deadline := time.Now().Add(timeout)
	var current string
	for time.Now().Before(deadline) {
		if err := chromedp.Run(bctx, chromedp.Location(&current)); err != nil {
			return classifyStepErr(err, "post-login url")
		}
		if current != loginURL && strings.Contains(current, "shop.sprouts.com") {
			return nil
		}
		if banner := errorBannerText(bctx); banner != "" {
			return fmt.Errorf("%w: %s", ErrBadCredentials, banner)
		}
		select {
		case <-bctx.Done():
			return classifyStepErr(bctx.Err(), "post-login wait")
		case <-time.After(250 * time.Millisecond):
		}
	}
	if current == loginURL {
		return fmt.Errorf("%w: still on login page after submit", ErrBadCredentials)
	}
	return fmt.Errorf("%w: last url %q", ErrEstablishTimeout, current)
}

func errorBannerText(bctx context.Context) string {
	var text string
	err := chromedp.Run(bctx, chromedp.Evaluate(
		`document.querySelector('[role="alert"], [class*="error"]')?.textContent || ""`,
		&text,
	))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func storefrontCookies(bctx context.Context) (map[string]string, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(bctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	out := map[string]string{}
	for _, c := range cookies {
		if !strings.Contains(c.Domain, "sprouts.com") {
			continue
		}
		out[c.Name] = c.Value
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no cookies scoped to the storefront domain")
	}
	return out, nil
}

var shopIDURLRegex = regexp.MustCompile(`shopId[=:](\d+)`)

func resolveShopID(cookies map[string]string, currentURL string) string {
	for name, value := range cookies {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "shop") && strings.Contains(lower, "id") {
			return value
		}
	}
	if m := shopIDURLRegex.FindStringSubmatch(currentURL); m != nil {
		return m[1]
	}
	return defaultShopID
}

var (
	shopperNameSelectors = []string{
		`[data-testid="user-name"]`,
		`.user-name`,
		`[class*="greeting"]`,
		`[class*="UserName"]`,
	}
	storeNameSelectors = []string{
		`[data-testid="store-name"]`,
		`[class*="store-name"]`,
		`[class*="StoreName"]`,
		`[class*="location"]`,
	}
	greetingRegex = regexp.MustCompile(`Hi,\s+(\w+)`)
)

// textBySelectors returns the first non-empty text among the selectors,
// optionally falling back to a regex over the page body. Identity extraction
// is advisory, so a miss degrades to "Unknown" instead of failing the run.
func textBySelectors(bctx context.Context, selectors []string, fallback *regexp.Regexp) string {
	for _, sel := range selectors {
		var text string
		err := chromedp.Run(bctx, chromedp.Evaluate(
			fmt.Sprintf(`document.querySelector(%q)?.textContent || ""`, sel),
			&text,
		))
		if err == nil {
			if text = strings.TrimSpace(text); text != "" {
				return text
			}
		}
	}
	if fallback != nil {
		var body string
		if err := chromedp.Run(bctx, chromedp.Evaluate(`document.body.innerText`, &body)); err == nil {
			if m := fallback.FindStringSubmatch(body); m != nil {
				return m[1]
			}
		}
	}
	return "Unknown"
}

// WriteIdentityFile persists the resolved shopper identity for operator
// visibility. Advisory only, never read back as an authentication input.
func WriteIdentityFile(session *Session, path string) error {
	content := fmt.Sprintf("User Name: %s\nDefault Store: %s\n", session.ShopperName, session.StoreName)
	return os.WriteFile(path, []byte(content), 0o644)
}
