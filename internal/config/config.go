// Package config loads server configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// OAuthClient is one provider's OAuth application credentials.
type OAuthClient struct {
	ClientID     string `env:"CLIENT_ID,required"`
	ClientSecret string `env:"CLIENT_SECRET,required"`
	RedirectURL  string `env:"REDIRECT_URL,required"`
}

// Config is the full server configuration. Every credential comes from the
// environment; nothing secret lives in files.
type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"identity.db"`

	// StateSecret signs the OAuth state tokens. At least 16 characters.
	StateSecret string `env:"STATE_SECRET,required"`

	// Cookie keys for the encrypted credential cookies. The hash key must
	// be 32 or 64 bytes, the block key 16, 24 or 32.
	CookieHashKey  string `env:"COOKIE_HASH_KEY,required"`
	CookieBlockKey string `env:"COOKIE_BLOCK_KEY,required"`

	// SecureCookies marks cookies Secure. Disable only for local
	// plain-HTTP development.
	SecureCookies bool `env:"SECURE_COOKIES" envDefault:"true"`

	// RaceTimeHost supports self-hosted racetime instances.
	RaceTimeHost string `env:"RACETIME_HOST" envDefault:"racetime.gg"`

	RaceTime  OAuthClient `envPrefix:"RACETIME_"`
	Discord   OAuthClient `envPrefix:"DISCORD_"`
	Challonge OAuthClient `envPrefix:"CHALLONGE_"`
	StartGG   OAuthClient `envPrefix:"STARTGG_"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
