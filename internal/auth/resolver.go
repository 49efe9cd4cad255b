package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/tourneyhub/identity/internal/apperror"
	"github.com/tourneyhub/identity/internal/model"
	"github.com/tourneyhub/identity/internal/provider"
	"github.com/tourneyhub/identity/internal/repository"
	"github.com/tourneyhub/identity/internal/session"
)

// RaceTimeAPI is the slice of the racetime.gg adapter credential resolution
// needs.
type RaceTimeAPI interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	FetchUser(ctx context.Context, accessToken string) (*provider.RaceTimeUser, error)
}

// DiscordAPI is the slice of the Discord adapter credential resolution
// needs.
type DiscordAPI interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	FetchUser(ctx context.Context, accessToken string) (*provider.DiscordUser, error)
}

// CredentialResolver turns stored session cookies into validated provider
// identities. RaceTime and Discord are resolved independently, each through
// the same state machine:
//
//   - access-token cookie present: validate it with a "who am I" call; a
//     provider rejection or network fault is an upstream failure.
//   - refresh-token cookie only: rotate it; a rejected refresh token means
//     the session is simply over (credential-missing, not a hard error). On
//     success the new pair is stored and the profile fetched.
//   - neither cookie: forward — (nil, nil), not an error.
//
// The access-token path is always tried first: a cheap validity check beats
// a token-rotation round trip.
type CredentialResolver struct {
	racetime RaceTimeAPI
	discord  DiscordAPI
	jar      *session.Jar
	logger   *slog.Logger
}

func NewCredentialResolver(racetime RaceTimeAPI, discord DiscordAPI, jar *session.Jar, logger *slog.Logger) *CredentialResolver {
	return &CredentialResolver{
		racetime: racetime,
		discord:  discord,
		jar:      jar,
		logger:   logger,
	}
}

// RaceTime resolves the request's racetime.gg credential.
// Returns (nil, nil) when no credential cookie is present.
func (r *CredentialResolver) RaceTime(w http.ResponseWriter, req *http.Request) (*provider.RaceTimeUser, error) {
	ctx := req.Context()

	if access, ok := r.jar.Get(req, session.RaceTimeToken); ok {
		u, err := r.racetime.FetchUser(ctx, access)
		if err != nil {
			return nil, fmt.Errorf("validating racetime access token: %w", err)
		}
		return u, nil
	}

	if refreshToken, ok := r.jar.Get(req, session.RaceTimeRefreshToken); ok {
		tok, err := r.racetime.Refresh(ctx, refreshToken)
		if err != nil {
			// A rejected refresh token ends the session; it is not a
			// provider outage.
			r.logger.Info("racetime refresh token rejected", slog.String("error", err.Error()))
			return nil, apperror.CredentialMissing("racetime session expired")
		}
		if err := r.jar.StoreToken(w, session.RaceTimeSlot, tok); err != nil {
			return nil, fmt.Errorf("storing refreshed racetime token: %w", err)
		}
		u, err := r.racetime.FetchUser(ctx, tok.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("fetching racetime profile after refresh: %w", err)
		}
		return u, nil
	}

	return nil, nil
}

// Discord resolves the request's Discord credential.
// Returns (nil, nil) when no credential cookie is present.
func (r *CredentialResolver) Discord(w http.ResponseWriter, req *http.Request) (*provider.DiscordUser, error) {
	ctx := req.Context()

	if access, ok := r.jar.Get(req, session.DiscordToken); ok {
		u, err := r.discord.FetchUser(ctx, access)
		if err != nil {
			return nil, fmt.Errorf("validating discord access token: %w", err)
		}
		return u, nil
	}

	if refreshToken, ok := r.jar.Get(req, session.DiscordRefreshToken); ok {
		tok, err := r.discord.Refresh(ctx, refreshToken)
		if err != nil {
			r.logger.Info("discord refresh token rejected", slog.String("error", err.Error()))
			return nil, apperror.CredentialMissing("discord session expired")
		}
		if err := r.jar.StoreToken(w, session.DiscordSlot, tok); err != nil {
			return nil, fmt.Errorf("storing refreshed discord token: %w", err)
		}
		u, err := r.discord.FetchUser(ctx, tok.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("fetching discord profile after refresh: %w", err)
		}
		return u, nil
	}

	return nil, nil
}

// UserResolver combines the request's validated provider identities into at
// most one local user.
type UserResolver struct {
	creds  *CredentialResolver
	users  repository.UserRepository
	logger *slog.Logger
}

func NewUserResolver(creds *CredentialResolver, users repository.UserRepository, logger *slog.Logger) *UserResolver {
	return &UserResolver{
		creds:  creds,
		users:  users,
		logger: logger,
	}
}

// Resolve returns the local user for the current request.
//
// Each provider contributes independently. The combination rule: the first
// provider to resolve a local user wins; a later success supersedes an
// earlier failure; a forward (credential simply absent) never overrides
// anything. With no success and no failure the request is unauthenticated.
//
// Every successful lookup refreshes that user's cached display fields from
// the live profile — unconditionally, not only on change.
//
// A resolved user with a view-as override is re-resolved to the override
// target; a target that no longer exists is corrupt admin configuration and
// fails hard rather than falling back to the viewer.
func (r *UserResolver) Resolve(w http.ResponseWriter, req *http.Request) (*model.User, error) {
	ctx := req.Context()

	var (
		found   *model.User
		failure error
	)

	rtUser, err := r.creds.RaceTime(w, req)
	switch {
	case err != nil:
		failure = err
	case rtUser != nil:
		u, err := r.users.ByRaceTimeID(ctx, rtUser.ID)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		if err == nil {
			err := r.users.UpdateRaceTimeProfile(ctx, u.ID, model.RaceTimeLink{
				DisplayName:   rtUser.Name,
				Discriminator: rtUser.Discriminator,
				Pronouns:      rtUser.Pronouns,
			})
			if err != nil {
				return nil, err
			}
			found = u
		}
	}

	dUser, err := r.creds.Discord(w, req)
	switch {
	case err != nil:
		if found == nil {
			failure = err
		}
	case dUser != nil:
		u, err := r.users.ByDiscordID(ctx, dUser.ID)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		if err == nil {
			displayName, username := dUser.DisplayFields()
			err := r.users.UpdateDiscordProfile(ctx, u.ID, model.DiscordLink{
				DisplayName:   displayName,
				Discriminator: dUser.Discriminator,
				Username:      username,
			})
			if err != nil {
				return nil, err
			}
			if found == nil {
				found = u
			}
		}
	}

	if found == nil {
		if failure != nil {
			return nil, failure
		}
		return nil, apperror.CredentialMissing("neither racetime_token nor discord_token cookie present")
	}

	target, err := r.users.ViewAsTarget(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	if target != "" {
		overridden, err := r.users.ByID(ctx, target)
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.DataIntegrity("view-as target " + target + " does not exist")
		}
		if err != nil {
			return nil, err
		}
		return overridden, nil
	}
	return found, nil
}

// Optional resolves the current user but treats every failure as anonymous.
// Routes that merely personalize for a signed-in user use this; routes that
// require one call Resolve and surface the error.
func (r *UserResolver) Optional(w http.ResponseWriter, req *http.Request) *model.User {
	u, err := r.Resolve(w, req)
	if err != nil {
		if !errors.Is(err, apperror.ErrCredentialMissing) {
			r.logger.Warn("user resolution failed, continuing anonymously",
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	return u
}
