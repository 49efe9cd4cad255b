package provider

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/tourneyhub/identity/internal/identity"
)

// RaceTimeUser is the portion of the racetime.gg userinfo response we care
// about. The endpoint returns more fields; only these are used.
type RaceTimeUser struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Discriminator *identity.Discriminator `json:"discriminator"`
	Pronouns      *string                 `json:"pronouns"`
}

// RaceTime wraps the racetime.gg OAuth flow and userinfo lookup.
// The host is configurable so self-hosted racetime instances (and tests)
// work unchanged.
type RaceTime struct {
	config *oauth2.Config
	client *http.Client
	base   string // e.g. "https://racetime.gg"
}

// NewRaceTime creates a RaceTime adapter for the given host
// (e.g. "racetime.gg").
func NewRaceTime(clientID, clientSecret, redirectURL, host string, client *http.Client) *RaceTime {
	base := "https://" + host
	return &RaceTime{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/o/authorize",
				TokenURL: base + "/o/token",
			},
		},
		client: client,
		base:   base,
	}
}

// AuthURL returns the authorization URL to redirect the user to.
func (p *RaceTime) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades the callback's authorization code for a token pair.
func (p *RaceTime) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return exchange(ctx, p.config, p.client, "racetime", code)
}

// Refresh rotates a refresh token into a new token pair.
func (p *RaceTime) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return refresh(ctx, p.config, p.client, "racetime", refreshToken)
}

// FetchUser returns the profile of the user the access token belongs to.
func (p *RaceTime) FetchUser(ctx context.Context, accessToken string) (*RaceTimeUser, error) {
	var u RaceTimeUser
	if err := getJSON(ctx, p.client, "racetime", p.base+"/o/userinfo", accessToken, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
