// Package repository defines the persistence interfaces the identity core
// depends on. The sqlite subpackage implements them.
package repository

import (
	"context"

	"github.com/tourneyhub/identity/internal/identity"
	"github.com/tourneyhub/identity/internal/model"
)

// UserRepository is the users + view_as persistence surface.
//
// Lookup methods return apperror.ErrNotFound (wrapped) when no row matches.
// Mutations that would claim an external id already held by another user
// return apperror.ErrConflict — the UNIQUE constraints behind these methods
// are the only cross-request concurrency control in the system.
type UserRepository interface {
	// ByID returns the user with the given internal id.
	ByID(ctx context.Context, id string) (*model.User, error)
	// ByRaceTimeID returns the user holding the given racetime.gg identity.
	ByRaceTimeID(ctx context.Context, racetimeID string) (*model.User, error)
	// ByDiscordID returns the user holding the given Discord identity.
	ByDiscordID(ctx context.Context, discordID identity.Snowflake) (*model.User, error)

	// Create inserts a new user row. A missing ID is populated with a
	// freshly generated one before the INSERT, so the id can be referenced
	// by later statements in the same transaction.
	Create(ctx context.Context, u *model.User) error
	// Delete removes a user row. Only merge ever does this.
	Delete(ctx context.Context, id string) error

	// ExistsRaceTime reports whether any user holds the racetime.gg id.
	ExistsRaceTime(ctx context.Context, racetimeID string) (bool, error)
	// ExistsDiscord reports whether any user holds the Discord id.
	ExistsDiscord(ctx context.Context, discordID identity.Snowflake) (bool, error)

	// Attach* link a provider identity (id + display fields) to an existing
	// user.
	AttachRaceTime(ctx context.Context, userID string, link model.RaceTimeLink) error
	AttachDiscord(ctx context.Context, userID string, link model.DiscordLink) error
	AttachChallonge(ctx context.Context, userID, challongeID string) error
	AttachStartGG(ctx context.Context, userID, startggID string) error

	// Update*Profile refresh a user's cached display fields from a freshly
	// fetched provider profile. The external id column is left untouched.
	UpdateRaceTimeProfile(ctx context.Context, userID string, link model.RaceTimeLink) error
	UpdateDiscordProfile(ctx context.Context, userID string, link model.DiscordLink) error

	// ViewAsTarget returns the view-as override target for the viewer, or
	// "" when no mapping exists.
	ViewAsTarget(ctx context.Context, viewerID string) (string, error)
	// SetViewAs installs (or replaces) a view-as mapping.
	SetViewAs(ctx context.Context, viewerID, targetID string) error
	// ClearViewAs removes a viewer's mapping, if any.
	ClearViewAs(ctx context.Context, viewerID string) error
}

// Store is a UserRepository factory with transaction support. WithTx runs fn
// against a transaction-backed repository: fn returning nil commits,
// anything else rolls back. Partial writes are never observable outside the
// transaction.
type Store interface {
	Users() UserRepository
	WithTx(ctx context.Context, fn func(UserRepository) error) error
}
