// Package provider wraps the OAuth exchange and "who am I" lookup for each
// external identity provider (racetime.gg, Discord, Challonge, start.gg).
//
// Each adapter is a plain stateless struct holding only its oauth2.Config
// and HTTP client, constructed once at startup and passed explicitly to
// call sites. Adapters return identity facts only: no user creation,
// linking, or cookie handling happens here.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tourneyhub/identity/internal/apperror"
)

// UpstreamError is a non-2xx response from a provider API. The response body
// is kept for diagnostics — provider error payloads are the only clue when
// an OAuth integration breaks.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return apperror.ErrUpstream
}

// TransportError is a network-layer fault talking to a provider: connection
// refused, timeout, TLS failure, or an unreadable/undecodable body.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{apperror.ErrUpstream, e.Err}
}

// wrapExchangeErr classifies an error from the oauth2 package: a token
// endpoint rejection becomes an UpstreamError, anything else a
// TransportError.
func wrapExchangeErr(provider string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &UpstreamError{
			Provider:   provider,
			StatusCode: retrieveErr.Response.StatusCode,
			Body:       strings.TrimSpace(string(retrieveErr.Body)),
		}
	}
	return &TransportError{Provider: provider, Err: err}
}

// doJSON performs req, surfaces non-2xx responses as UpstreamError with the
// body attached, and decodes a 2xx body into v.
func doJSON(client *http.Client, provider string, req *http.Request, v any) error {
	resp, err := client.Do(req)
	if err != nil {
		return &TransportError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &TransportError{Provider: provider, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// getJSON is doJSON for a bearer-authenticated GET.
func getJSON(ctx context.Context, client *http.Client, provider, url, accessToken string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("provider: building %s request: %w", provider, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return doJSON(client, provider, req, v)
}

// refresh rotates a refresh token through the provider's token endpoint and
// returns the new token pair. The returned token's RefreshToken may differ
// from the input if the provider rotates refresh tokens.
func refresh(ctx context.Context, config *oauth2.Config, client *http.Client, provider, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, wrapExchangeErr(provider, err)
	}
	return tok, nil
}

// exchange trades an authorization code for a token pair.
func exchange(ctx context.Context, config *oauth2.Config, client *http.Client, provider, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, wrapExchangeErr(provider, err)
	}
	return tok, nil
}
