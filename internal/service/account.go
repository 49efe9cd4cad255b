// Package service holds the account lifecycle rules: registration of a
// first-seen provider identity, attaching further identities to a signed-in
// user, and merging two accounts that turn out to belong to the same person.
// It sits between the HTTP handlers and the repository:
//
//	AuthHandler (HTTP) → AccountService (account rules) → repository.Store (DB)
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tourneyhub/identity/internal/apperror"
	"github.com/tourneyhub/identity/internal/model"
	"github.com/tourneyhub/identity/internal/provider"
	"github.com/tourneyhub/identity/internal/repository"
)

var (
	// ErrAlreadyMerged reports a merge request from a user who already has
	// both providers linked.
	ErrAlreadyMerged = apperror.Conflict("your accounts are already merged")

	// ErrMergeFailed reports a merge whose preconditions did not hold, for
	// example when both accounts already carry two provider links. Nothing
	// was mutated.
	ErrMergeFailed = apperror.Conflict("these accounts cannot be merged automatically")
)

// errAttemptSkipped marks a merge alternative whose preconditions did not
// hold; the caller moves on to the next alternative.
var errAttemptSkipped = errors.New("service: merge alternative not applicable")

// AccountService implements registration, identity attachment and account
// merging. Every multi-statement mutation runs in a single transaction.
type AccountService struct {
	store  repository.Store
	logger *slog.Logger
}

func NewAccountService(store repository.Store, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		logger: logger,
	}
}

// RegisterRaceTime handles a racetime.gg identity that resolved to no local
// user. If me is non-nil the identity is attached to the signed-in account;
// otherwise a fresh account is created around it. Returns the owning user.
//
// A concurrent registration racing for the same external id is settled by
// the uniqueness constraint: exactly one request wins, the other gets a
// conflict.
func (s *AccountService) RegisterRaceTime(ctx context.Context, me *model.User, rt *provider.RaceTimeUser) (*model.User, error) {
	link := model.RaceTimeLink{
		ID:            rt.ID,
		DisplayName:   rt.Name,
		Discriminator: rt.Discriminator,
		Pronouns:      rt.Pronouns,
	}

	var owner *model.User
	err := s.store.WithTx(ctx, func(users repository.UserRepository) error {
		taken, err := users.ExistsRaceTime(ctx, rt.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperror.Conflict("this racetime.gg account is already linked to another user")
		}

		if me != nil {
			if me.RaceTime != nil {
				return apperror.Conflict("you already have a racetime.gg account linked")
			}
			if err := users.AttachRaceTime(ctx, me.ID, link); err != nil {
				return err
			}
			attached := *me
			attached.RaceTime = &link
			owner = &attached
			return nil
		}

		owner = &model.User{
			DisplaySource: model.DisplaySourceRaceTime,
			RaceTime:      &link,
		}
		return users.Create(ctx, owner)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("racetime identity registered",
		slog.String("user_id", owner.ID),
		slog.String("racetime_id", rt.ID),
		slog.Bool("attached", me != nil),
	)
	return owner, nil
}

// RegisterDiscord is the Discord counterpart of RegisterRaceTime.
func (s *AccountService) RegisterDiscord(ctx context.Context, me *model.User, dc *provider.DiscordUser) (*model.User, error) {
	displayName, username := dc.DisplayFields()
	link := model.DiscordLink{
		ID:            dc.ID,
		DisplayName:   displayName,
		Discriminator: dc.Discriminator,
		Username:      username,
	}

	var owner *model.User
	err := s.store.WithTx(ctx, func(users repository.UserRepository) error {
		taken, err := users.ExistsDiscord(ctx, dc.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperror.Conflict("this Discord account is already linked to another user")
		}

		if me != nil {
			if me.Discord != nil {
				return apperror.Conflict("you already have a Discord account linked")
			}
			if err := users.AttachDiscord(ctx, me.ID, link); err != nil {
				return err
			}
			attached := *me
			attached.Discord = &link
			owner = &attached
			return nil
		}

		owner = &model.User{
			DisplaySource: model.DisplaySourceDiscord,
			Discord:       &link,
		}
		return users.Create(ctx, owner)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("discord identity registered",
		slog.String("user_id", owner.ID),
		slog.String("discord_id", dc.ID.String()),
		slog.Bool("attached", me != nil),
	)
	return owner, nil
}

// AttachChallonge links a Challonge account to the signed-in user. Challonge
// has no session cookie slot, so this only ever runs inside its one-shot
// OAuth callback. The uniqueness constraint rejects an id claimed elsewhere.
func (s *AccountService) AttachChallonge(ctx context.Context, me *model.User, challongeID string) error {
	err := s.store.WithTx(ctx, func(users repository.UserRepository) error {
		return users.AttachChallonge(ctx, me.ID, challongeID)
	})
	if errors.Is(err, apperror.ErrConflict) {
		return apperror.Conflict("this Challonge account is already linked to another user")
	}
	if err != nil {
		return err
	}
	s.logger.Info("challonge identity attached",
		slog.String("user_id", me.ID),
		slog.String("challonge_id", challongeID),
	)
	return nil
}

// AttachStartGG links a start.gg account to the signed-in user.
func (s *AccountService) AttachStartGG(ctx context.Context, me *model.User, startggID string) error {
	err := s.store.WithTx(ctx, func(users repository.UserRepository) error {
		return users.AttachStartGG(ctx, me.ID, startggID)
	})
	if errors.Is(err, apperror.ErrConflict) {
		return apperror.Conflict("this start.gg account is already linked to another user")
	}
	if err != nil {
		return err
	}
	s.logger.Info("startgg identity attached",
		slog.String("user_id", me.ID),
		slog.String("startgg_id", startggID),
	)
	return nil
}

// Merge reconciles the signed-in user me with a second provider identity that
// belongs to a different local user. Two directional alternatives are tried
// in order, each in its own all-or-nothing transaction:
//
//  1. me is RaceTime-only and the presented Discord identity belongs to a
//     user B with no RaceTime link: delete B, copy B's Discord link onto me.
//  2. me is Discord-only and the presented RaceTime identity belongs to a
//     user B with no Discord link: delete B, copy B's RaceTime link onto me.
//
// A failed alternative rolls back fully before the next is tried. If neither
// applies, nothing is mutated and the caller gets ErrAlreadyMerged (me holds
// both providers already) or ErrMergeFailed. Event history owned by the
// deleted account is not reassigned here; that belongs to the event
// subsystem.
func (s *AccountService) Merge(ctx context.Context, me *model.User, rt *provider.RaceTimeUser, dc *provider.DiscordUser) (*model.User, error) {
	if me.RaceTime != nil && me.Discord != nil {
		return nil, ErrAlreadyMerged
	}

	attempts := []func(repository.UserRepository) (*model.User, error){
		func(users repository.UserRepository) (*model.User, error) {
			return s.absorbDiscord(ctx, users, me, dc)
		},
		func(users repository.UserRepository) (*model.User, error) {
			return s.absorbRaceTime(ctx, users, me, rt)
		},
	}

	var lastErr error
	for _, attempt := range attempts {
		var survivor *model.User
		err := s.store.WithTx(ctx, func(users repository.UserRepository) error {
			u, err := attempt(users)
			if err != nil {
				return err
			}
			survivor = u
			return nil
		})
		if err == nil {
			s.logger.Info("accounts merged", slog.String("user_id", survivor.ID))
			return survivor, nil
		}
		if errors.Is(err, errAttemptSkipped) {
			continue
		}
		s.logger.Warn("merge alternative failed, rolled back",
			slog.String("user_id", me.ID),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrMergeFailed
}

// absorbDiscord moves a Discord link from its current owner onto me, which
// must be RaceTime-only. The donor account is deleted first so the
// uniqueness constraint never sees the id on two rows.
func (s *AccountService) absorbDiscord(ctx context.Context, users repository.UserRepository, me *model.User, dc *provider.DiscordUser) (*model.User, error) {
	if me.RaceTime == nil || me.Discord != nil || dc == nil {
		return nil, errAttemptSkipped
	}
	donor, err := users.ByDiscordID(ctx, dc.ID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, errAttemptSkipped
	}
	if err != nil {
		return nil, err
	}
	if donor.ID == me.ID || donor.RaceTime != nil || donor.Discord == nil {
		return nil, errAttemptSkipped
	}

	if err := users.Delete(ctx, donor.ID); err != nil {
		return nil, err
	}
	if err := users.AttachDiscord(ctx, me.ID, *donor.Discord); err != nil {
		return nil, err
	}
	merged := *me
	merged.Discord = donor.Discord
	return &merged, nil
}

// absorbRaceTime is the mirror image: me is Discord-only and absorbs the
// RaceTime link of its current owner.
func (s *AccountService) absorbRaceTime(ctx context.Context, users repository.UserRepository, me *model.User, rt *provider.RaceTimeUser) (*model.User, error) {
	if me.Discord == nil || me.RaceTime != nil || rt == nil {
		return nil, errAttemptSkipped
	}
	donor, err := users.ByRaceTimeID(ctx, rt.ID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, errAttemptSkipped
	}
	if err != nil {
		return nil, err
	}
	if donor.ID == me.ID || donor.Discord != nil || donor.RaceTime == nil {
		return nil, errAttemptSkipped
	}

	if err := users.Delete(ctx, donor.ID); err != nil {
		return nil, err
	}
	if err := users.AttachRaceTime(ctx, me.ID, *donor.RaceTime); err != nil {
		return nil, err
	}
	merged := *me
	merged.RaceTime = donor.RaceTime
	return &merged, nil
}
