package sprouts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"sproutsclip/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/sprouts")

const graphqlPath = "/graphql"

// Client replays an extracted Session as plain HTTP calls against the
// storefront GraphQL endpoint. It holds no reference to the browser.
type Client struct {
	http    *resty.Client
	session *Session
}

// NewClient builds a client over one persistent HTTP connection context with
// the session's cookies attached to every request. baseUrl is the storefront
// origin (BaseURL outside of tests).
func NewClient(baseUrl string, session *Session) (*Client, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(baseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)

	cookies := make([]*http.Cookie, 0, len(session.Cookies))
	for name, value := range session.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:   name,
			Value:  value,
			Domain: u.Hostname(),
			Path:   "/",
		})
	}
	client.SetCookies(cookies)

	client.SetHeader("user-agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36")
	client.SetHeader("accept", "*/*")
	client.SetHeader("x-client-identifier", "web")
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetTimeout(30 * time.Second)

	// bounded retry with exponential backoff for transient transport failures
	// and 5xx; auth and protocol failures are never retried here
	client.SetRetryCount(3)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(8 * time.Second)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return res.StatusCode() >= 500
	})

	telemetry.InstrumentResty(client, "scrapers/sprouts/http")

	return &Client{http: client, session: session}, nil
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// Call issues one named GraphQL operation with its persisted-query extension
// and decodes the data payload into out. Queries travel as GET params the way
// the storefront issues them; mutations as POST bodies.
func (c *Client) Call(ctx context.Context, op Operation, variables any, out any) error {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("graphql:%s", op.Name))
	defer span.End()
	span.SetAttributes(attribute.String("operation", op.Name))

	jsonVariables, err := json.Marshal(variables)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize variables")
		return err
	}
	extensions := fmt.Sprintf(`{"persistedQuery":{"version":1,"sha256Hash":%q}}`, op.Hash)

	var res *resty.Response
	if op.Mutation {
		body := fmt.Sprintf(
			`{"operationName":%q,"variables":%s,"extensions":%s}`,
			op.Name, jsonVariables, extensions,
		)
		res, err = c.http.R().
			SetContext(ctx).
			SetHeader("content-type", "application/json").
			SetBody(body).
			Post(graphqlPath)
	} else {
		res, err = c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"operationName": op.Name,
				"variables":     string(jsonVariables),
				"extensions":    extensions,
			}).
			Get(graphqlPath)
	}
	if err != nil {
		// resty only returns an error once its bounded retries are exhausted
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed after retries")
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	if err := classifyStatus(res.StatusCode()); err != nil {
		span.SetStatus(codes.Error, res.Status())
		return err
	}

	var envelope graphqlEnvelope
	if err := json.Unmarshal(res.Body(), &envelope); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response body")
		return fmt.Errorf("%w: %v", ErrProtocolMismatch, err)
	}
	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		if isAuthError(first) {
			span.SetStatus(codes.Error, "session expired")
			return fmt.Errorf("%w: %s", ErrSessionExpired, first.Message)
		}
		span.SetStatus(codes.Error, first.Message)
		return fmt.Errorf("graphql %s: %s", op.Name, first.Message)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		span.SetStatus(codes.Error, "no data in response")
		return fmt.Errorf("%w: response carried neither data nor errors", ErrProtocolMismatch)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to decode data payload")
			return fmt.Errorf("%w: %v", ErrProtocolMismatch, err)
		}
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: http %d", ErrSessionExpired, status)
	case status >= 500:
		return fmt.Errorf("%w: http %d", ErrUpstreamUnavailable, status)
	case status >= 300:
		return fmt.Errorf("%w: http %d", ErrProtocolMismatch, status)
	}
	return nil
}

func isAuthError(e graphqlError) bool {
	switch strings.ToUpper(e.Extensions.Code) {
	case "UNAUTHENTICATED", "UNAUTHORIZED", "FORBIDDEN":
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "not authenticated") ||
		strings.Contains(msg, "session expired") ||
		strings.Contains(msg, "login required")
}

// Validate probes the storefront page with the replayed session and reports
// ErrSessionExpired when it still shows the signed-out sign-in link. Cheaper
// than discovering a dead session halfway through the catalog fetch.
func (c *Client) Validate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Validate")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		Get(storefrontPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch storefront")
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if err := classifyStatus(res.StatusCode()); err != nil {
		span.SetStatus(codes.Error, res.Status())
		return err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse storefront html")
		return fmt.Errorf("%w: %v", ErrProtocolMismatch, err)
	}

	signedOut := false
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), "Sign In") {
			signedOut = true
			return false
		}
		return true
	})
	if signedOut {
		span.SetStatus(codes.Error, "storefront rendered signed out")
		return fmt.Errorf("%w: storefront shows the sign-in link", ErrSessionExpired)
	}
	return nil
}
