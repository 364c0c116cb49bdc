package sprouts

import "errors"

// The error taxonomy of a run. Callers branch on these with errors.Is;
// everything else surfacing from this package is a per-offer or wrapped
// transport error.
var (
	// ErrBadCredentials means the storefront rejected the username/password.
	// Fatal, never retried.
	ErrBadCredentials = errors.New("sprouts: rejected credentials")

	// ErrEstablishTimeout means the post-login indicator never appeared
	// within the bounded wait. Usually transient page slowness; callers may
	// retry once with a fresh browser.
	ErrEstablishTimeout = errors.New("sprouts: timed out waiting for login to complete")

	// ErrPageStructure means a selector the login flow depends on no longer
	// exists. The storefront changed and the flow needs maintenance.
	ErrPageStructure = errors.New("sprouts: login page structure changed")

	// ErrSessionExpired means the API stopped honoring the extracted session
	// mid-run.
	ErrSessionExpired = errors.New("sprouts: session expired")

	// ErrUpstreamUnavailable means the API could not be reached even after
	// bounded retries.
	ErrUpstreamUnavailable = errors.New("sprouts: upstream unavailable")

	// ErrProtocolMismatch means the API answered with a shape this client
	// does not understand, which signals upstream API drift rather than an
	// auth or network problem.
	ErrProtocolMismatch = errors.New("sprouts: unexpected response shape")
)
