// Package model defines the data structures used throughout the application.
package model

import (
	"time"

	"github.com/tourneyhub/identity/internal/identity"
)

// Display sources recorded at account creation: which provider's profile
// seeded the user row.
const (
	DisplaySourceRaceTime = "racetime"
	DisplaySourceDiscord  = "discord"
)

// RaceTimeLink is a user's linked racetime.gg identity. Only derived display
// fields are persisted; the full provider profile is fetched live per
// request and never stored.
type RaceTimeLink struct {
	ID            string                  `json:"id" db:"racetime_id"`
	DisplayName   string                  `json:"displayName" db:"racetime_display_name"`
	Discriminator *identity.Discriminator `json:"discriminator,omitempty" db:"racetime_discriminator"`
	Pronouns      *string                 `json:"pronouns,omitempty" db:"racetime_pronouns"`
}

// DiscordLink is a user's linked Discord identity. Username is only set for
// migrated (global-name) accounts, where DisplayName holds the global name
// and Username the raw account name; legacy accounts carry a Discriminator
// instead.
type DiscordLink struct {
	ID            identity.Snowflake      `json:"id" db:"discord_id"`
	DisplayName   string                  `json:"displayName" db:"discord_display_name"`
	Discriminator *identity.Discriminator `json:"discriminator,omitempty" db:"discord_discriminator"`
	Username      *string                 `json:"username,omitempty" db:"discord_username"`
}

// User is the platform's durable account record. Each provider link is
// optional, but a persisted user always has at least one — accounts are only
// ever created from a provider identity, and only deleted as the losing side
// of a merge.
//
// Uniqueness of every (provider, external id) pair across users is enforced
// by UNIQUE constraints at the persistence layer; that constraint is also
// what resolves two simultaneous registrations racing for the same id.
type User struct {
	ID            string        `json:"id" db:"id"`
	DisplaySource string        `json:"displaySource" db:"display_source"`
	RaceTime      *RaceTimeLink `json:"racetime,omitempty"`
	Discord       *DiscordLink  `json:"discord,omitempty"`
	ChallongeID   *string       `json:"challongeId,omitempty" db:"challonge_id"`
	StartGGID     *string       `json:"startggId,omitempty" db:"startgg_id"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time     `json:"updatedAt" db:"updated_at"`
}

// DisplayName returns the name shown for this user, preferring the provider
// recorded as the display source at creation.
func (u *User) DisplayName() string {
	if u.DisplaySource == DisplaySourceDiscord && u.Discord != nil {
		return u.Discord.DisplayName
	}
	if u.RaceTime != nil {
		return u.RaceTime.DisplayName
	}
	if u.Discord != nil {
		return u.Discord.DisplayName
	}
	return ""
}

// Tag returns the user's display name with its discriminator suffix
// ("name#0042") when the sourcing provider has one.
func (u *User) Tag() string {
	name := u.DisplayName()
	var disc *identity.Discriminator
	switch {
	case u.DisplaySource == DisplaySourceDiscord && u.Discord != nil:
		disc = u.Discord.Discriminator
	case u.RaceTime != nil:
		disc = u.RaceTime.Discriminator
	case u.Discord != nil:
		disc = u.Discord.Discriminator
	}
	if disc == nil {
		return name
	}
	return name + "#" + disc.String()
}
