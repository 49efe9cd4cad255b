package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/tourneyhub/identity/internal/identity"
)

// DiscordUser is the normalized /users/@me response.
//
// Discord distinguishes legacy discriminator-tagged accounts from migrated
// "global name" accounts: legacy accounts report a non-zero discriminator,
// migrated accounts report discriminator 0 plus a global_name. The
// DisplayFields rule below derives the persisted fields from that split.
type DiscordUser struct {
	ID            identity.Snowflake
	Username      string
	GlobalName    *string
	Discriminator *identity.Discriminator
}

func (u *DiscordUser) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            identity.Snowflake `json:"id"`
		Username      string             `json:"username"`
		GlobalName    *string            `json:"global_name"`
		Discriminator json.RawMessage    `json:"discriminator"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.ID = raw.ID
	u.Username = raw.Username
	u.GlobalName = raw.GlobalName
	u.Discriminator = nil
	if len(raw.Discriminator) > 0 && string(raw.Discriminator) != "null" {
		disc, err := identity.UnmarshalDiscordDiscriminator(raw.Discriminator)
		if err != nil {
			return err
		}
		u.Discriminator = disc
	}
	return nil
}

// DisplayFields returns the display name to persist and, for migrated
// accounts, the secondary username. Legacy accounts (discriminator present)
// display the raw username and store no separate username; migrated accounts
// display the global name (falling back to the username) and also store the
// username.
func (u *DiscordUser) DisplayFields() (displayName string, username *string) {
	if u.Discriminator != nil {
		return u.Username, nil
	}
	name := u.Username
	if u.GlobalName != nil {
		name = *u.GlobalName
	}
	uname := u.Username
	return name, &uname
}

// Discord wraps the Discord OAuth flow and /users/@me lookup.
type Discord struct {
	config  *oauth2.Config
	client  *http.Client
	apiBase string // "https://discord.com/api/v10"
}

func NewDiscord(clientID, clientSecret, redirectURL string, client *http.Client) *Discord {
	return &Discord{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		},
		client:  client,
		apiBase: "https://discord.com/api/v10",
	}
}

func (p *Discord) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *Discord) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return exchange(ctx, p.config, p.client, "discord", code)
}

func (p *Discord) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return refresh(ctx, p.config, p.client, "discord", refreshToken)
}

func (p *Discord) FetchUser(ctx context.Context, accessToken string) (*DiscordUser, error) {
	var u DiscordUser
	if err := getJSON(ctx, p.client, "discord", p.apiBase+"/users/@me", accessToken, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
