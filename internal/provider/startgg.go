package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ErrGraphQLResponse reports a 2xx GraphQL response missing the field we
// queried for — typically a permissions problem that start.gg reports as
// data-shaped nulls instead of an HTTP error.
var ErrGraphQLResponse = errors.New("startgg: missing field in GraphQL query response")

// currentUserQuery asks start.gg who the access token belongs to. This is
// the only query this core ever sends, so it is a fixed document rather
// than a generated client.
const currentUserQuery = `query CurrentUserQuery { currentUser { id } }`

// StartGG wraps the start.gg OAuth flow and the GraphQL current-user query.
// Like Challonge, start.gg credentials are one-shot: used at callback time
// to read the external id, never stored as a session credential.
type StartGG struct {
	config *oauth2.Config
	client *http.Client
	gqlURL string // "https://api.start.gg/gql/alpha"
}

func NewStartGG(clientID, clientSecret, redirectURL string, client *http.Client) *StartGG {
	return &StartGG{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"user.identity"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://start.gg/oauth/authorize",
				TokenURL: "https://api.start.gg/oauth/access_token",
			},
		},
		client: client,
		gqlURL: "https://api.start.gg/gql/alpha",
	}
}

func (p *StartGG) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *StartGG) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return exchange(ctx, p.config, p.client, "startgg", code)
}

// FetchCurrentUserID returns the external id of the user behind the access
// token.
func (p *StartGG) FetchCurrentUserID(ctx context.Context, accessToken string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"query":     currentUserQuery,
		"variables": map[string]any{},
	})
	if err != nil {
		return "", fmt.Errorf("provider: encoding startgg query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.gqlURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("provider: building startgg request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var out struct {
		Data struct {
			CurrentUser *struct {
				ID *json.Number `json:"id"`
			} `json:"currentUser"`
		} `json:"data"`
	}
	if err := doJSON(p.client, "startgg", req, &out); err != nil {
		return "", err
	}
	if out.Data.CurrentUser == nil || out.Data.CurrentUser.ID == nil {
		return "", ErrGraphQLResponse
	}
	return out.Data.CurrentUser.ID.String(), nil
}
