package provider

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ChallongeUser is the tournament-bracket identity. Challonge's v2 API only
// needs to give us a stable external id; everything else about the account
// lives on their side.
type ChallongeUser struct {
	ID string `json:"id"`
}

// challongeEnvelope is the JSON:API-style response wrapper around v2
// resources.
type challongeEnvelope struct {
	Data ChallongeUser `json:"data"`
}

// Challonge wraps the Challonge OAuth flow and the /v2/me.json lookup.
// Challonge credentials are one-shot: the token is used during the callback
// to read the external id and is not kept as a session credential.
type Challonge struct {
	config  *oauth2.Config
	client  *http.Client
	apiBase string // "https://api.challonge.com"
}

func NewChallonge(clientID, clientSecret, redirectURL string, client *http.Client) *Challonge {
	return &Challonge{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"me"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://api.challonge.com/oauth/authorize",
				TokenURL: "https://api.challonge.com/oauth/token",
			},
		},
		client:  client,
		apiBase: "https://api.challonge.com",
	}
}

func (p *Challonge) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *Challonge) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return exchange(ctx, p.config, p.client, "challonge", code)
}

// FetchUser returns the account behind the access token, unwrapped from the
// {"data": ...} envelope.
func (p *Challonge) FetchUser(ctx context.Context, accessToken string) (*ChallongeUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/v2/me.json", nil)
	if err != nil {
		return nil, fmt.Errorf("provider: building challonge request: %w", err)
	}
	// The v2 API rejects requests without these three headers.
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Authorization-Type", "v2")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var envelope challongeEnvelope
	if err := doJSON(p.client, "challonge", req, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}
