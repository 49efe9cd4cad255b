package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/tourneyhub/identity/internal/apperror"
	"github.com/tourneyhub/identity/internal/identity"
	"github.com/tourneyhub/identity/internal/model"
	"github.com/tourneyhub/identity/internal/provider"
	"github.com/tourneyhub/identity/internal/repository/sqlite"
)

func newTestService(t *testing.T) (*AccountService, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewAccountService(db, logger), db
}

func rtIdentity(id, name string) *provider.RaceTimeUser {
	return &provider.RaceTimeUser{ID: id, Name: name}
}

func dcIdentity(id identity.Snowflake, username string) *provider.DiscordUser {
	return &provider.DiscordUser{ID: id, Username: username, GlobalName: &username}
}

// ---------------------------------------------------------------------------
// registration
// ---------------------------------------------------------------------------

func TestRegisterRaceTime_CreatesUser(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	u, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer"))
	if err != nil {
		t.Fatalf("RegisterRaceTime: %v", err)
	}
	if u.ID == "" {
		t.Fatal("registered user has no id")
	}
	if u.DisplaySource != model.DisplaySourceRaceTime {
		t.Errorf("display source = %q, want racetime", u.DisplaySource)
	}

	stored, err := db.Users().ByRaceTimeID(ctx, "rt-1")
	if err != nil {
		t.Fatalf("ByRaceTimeID after register: %v", err)
	}
	if stored.ID != u.ID {
		t.Errorf("stored id = %s, want %s", stored.ID, u.ID)
	}
}

func TestRegisterRaceTime_SecondAttemptConflicts(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer")); err != nil {
		t.Fatalf("first register: %v", err)
	}

	_, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "impostor"))
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("second register error = %v, want ErrConflict", err)
	}

	// The failed attempt must not have touched the first registration.
	stored, err := db.Users().ByRaceTimeID(ctx, "rt-1")
	if err != nil {
		t.Fatalf("ByRaceTimeID: %v", err)
	}
	if stored.RaceTime.DisplayName != "racer" {
		t.Errorf("display name = %q, the conflicting attempt mutated data", stored.RaceTime.DisplayName)
	}
}

func TestRegisterDiscord_AttachesToSignedInUser(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	me, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer"))
	if err != nil {
		t.Fatalf("RegisterRaceTime: %v", err)
	}

	got, err := svc.RegisterDiscord(ctx, me, dcIdentity(42, "racer_dc"))
	if err != nil {
		t.Fatalf("RegisterDiscord: %v", err)
	}
	if got.ID != me.ID {
		t.Errorf("attach created a new user %s, want attach to %s", got.ID, me.ID)
	}

	stored, err := db.Users().ByID(ctx, me.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if stored.RaceTime == nil || stored.Discord == nil {
		t.Errorf("user links = (%v, %v), want both present", stored.RaceTime, stored.Discord)
	}
	if stored.Discord.ID != 42 {
		t.Errorf("discord id = %d, want 42", stored.Discord.ID)
	}
}

func TestRegisterDiscord_AlreadyLinkedElsewhere(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterDiscord(ctx, nil, dcIdentity(42, "owner")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	me, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer"))
	if err != nil {
		t.Fatalf("RegisterRaceTime: %v", err)
	}

	_, err = svc.RegisterDiscord(ctx, me, dcIdentity(42, "owner"))
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict for an identity claimed elsewhere", err)
	}
}

func TestAttachChallonge_DuplicateConflicts(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	a, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-a", "a"))
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	b, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-b", "b"))
	if err != nil {
		t.Fatalf("register b: %v", err)
	}

	if err := svc.AttachChallonge(ctx, a, "ch-1"); err != nil {
		t.Fatalf("AttachChallonge: %v", err)
	}
	if err := svc.AttachChallonge(ctx, b, "ch-1"); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("duplicate attach error = %v, want ErrConflict", err)
	}

	stored, err := db.Users().ByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if stored.ChallongeID != nil {
		t.Errorf("failed attach left challonge id %q on user b", *stored.ChallongeID)
	}
}

func TestAttachStartGG(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	me, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.AttachStartGG(ctx, me, "sgg-7"); err != nil {
		t.Fatalf("AttachStartGG: %v", err)
	}

	stored, err := db.Users().ByID(ctx, me.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if stored.StartGGID == nil || *stored.StartGGID != "sgg-7" {
		t.Errorf("startgg id = %v, want sgg-7", stored.StartGGID)
	}
}

// ---------------------------------------------------------------------------
// merge
// ---------------------------------------------------------------------------

func TestMerge_RaceTimeOwnerAbsorbsDiscord(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	me, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer"))
	if err != nil {
		t.Fatalf("register me: %v", err)
	}
	donor, err := svc.RegisterDiscord(ctx, nil, dcIdentity(42, "racer_dc"))
	if err != nil {
		t.Fatalf("register donor: %v", err)
	}

	survivor, err := svc.Merge(ctx, me, rtIdentity("rt-1", "racer"), dcIdentity(42, "racer_dc"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if survivor.ID != me.ID {
		t.Errorf("survivor = %s, want the signed-in user %s", survivor.ID, me.ID)
	}

	// Exactly one user remains, holding both links.
	stored, err := db.Users().ByID(ctx, me.ID)
	if err != nil {
		t.Fatalf("ByID survivor: %v", err)
	}
	if stored.RaceTime == nil || stored.Discord == nil {
		t.Fatalf("survivor links = (%v, %v), want both", stored.RaceTime, stored.Discord)
	}
	if stored.Discord.ID != 42 {
		t.Errorf("survivor discord id = %d, want 42", stored.Discord.ID)
	}
	if _, err := db.Users().ByID(ctx, donor.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("donor lookup error = %v, want ErrNotFound after merge", err)
	}
}

func TestMerge_DiscordOwnerAbsorbsRaceTime(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	me, err := svc.RegisterDiscord(ctx, nil, dcIdentity(42, "racer_dc"))
	if err != nil {
		t.Fatalf("register me: %v", err)
	}
	donor, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer"))
	if err != nil {
		t.Fatalf("register donor: %v", err)
	}

	survivor, err := svc.Merge(ctx, me, rtIdentity("rt-1", "racer"), dcIdentity(42, "racer_dc"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if survivor.ID != me.ID {
		t.Errorf("survivor = %s, want %s", survivor.ID, me.ID)
	}
	stored, err := db.Users().ByID(ctx, me.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if stored.RaceTime == nil || stored.RaceTime.ID != "rt-1" {
		t.Errorf("survivor racetime link = %v, want rt-1", stored.RaceTime)
	}
	if _, err := db.Users().ByID(ctx, donor.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("donor still present after merge: %v", err)
	}
}

func TestMerge_AlreadyMerged(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	me, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	me, err = svc.RegisterDiscord(ctx, me, dcIdentity(42, "racer_dc"))
	if err != nil {
		t.Fatalf("attach discord: %v", err)
	}

	_, err = svc.Merge(ctx, me, rtIdentity("rt-1", "racer"), dcIdentity(42, "racer_dc"))
	if !errors.Is(err, ErrAlreadyMerged) {
		t.Fatalf("Merge error = %v, want ErrAlreadyMerged", err)
	}
}

func TestMerge_DualLinkedDonorFails(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	me, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer"))
	if err != nil {
		t.Fatalf("register me: %v", err)
	}
	donor, err := svc.RegisterDiscord(ctx, nil, dcIdentity(42, "other"))
	if err != nil {
		t.Fatalf("register donor: %v", err)
	}
	if _, err := svc.RegisterRaceTime(ctx, donor, rtIdentity("rt-2", "other")); err != nil {
		t.Fatalf("dual-link donor: %v", err)
	}

	_, err = svc.Merge(ctx, me, rtIdentity("rt-1", "racer"), dcIdentity(42, "other"))
	if !errors.Is(err, ErrMergeFailed) {
		t.Fatalf("Merge error = %v, want ErrMergeFailed", err)
	}

	// No mutation: donor keeps both links, me keeps one.
	storedDonor, err := db.Users().ByID(ctx, donor.ID)
	if err != nil {
		t.Fatalf("donor lookup: %v", err)
	}
	if storedDonor.RaceTime == nil || storedDonor.Discord == nil {
		t.Error("failed merge mutated the donor account")
	}
	storedMe, err := db.Users().ByID(ctx, me.ID)
	if err != nil {
		t.Fatalf("me lookup: %v", err)
	}
	if storedMe.Discord != nil {
		t.Error("failed merge attached a discord link to the signed-in user")
	}
}

func TestMerge_UnclaimedIdentityFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	me, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// The second identity resolves to no local user at all; that is a
	// registration case, not a merge.
	_, err = svc.Merge(ctx, me, rtIdentity("rt-1", "racer"), dcIdentity(42, "nobody"))
	if !errors.Is(err, ErrMergeFailed) {
		t.Fatalf("Merge error = %v, want ErrMergeFailed", err)
	}
}

func TestMerge_FailedAlternativeRollsBack(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	// me was deleted out from under the request after resolution; the
	// attach inside the merge transaction then violates nothing but writes
	// zero rows, and the donor delete must roll back with it.
	me, err := svc.RegisterRaceTime(ctx, nil, rtIdentity("rt-1", "racer"))
	if err != nil {
		t.Fatalf("register me: %v", err)
	}
	donor, err := svc.RegisterDiscord(ctx, nil, dcIdentity(42, "racer_dc"))
	if err != nil {
		t.Fatalf("register donor: %v", err)
	}
	if err := db.Users().Delete(ctx, me.ID); err != nil {
		t.Fatalf("delete me: %v", err)
	}

	_, err = svc.Merge(ctx, me, rtIdentity("rt-1", "racer"), dcIdentity(42, "racer_dc"))
	if err == nil {
		t.Fatal("Merge succeeded against a deleted signed-in user")
	}

	// Atomicity: the donor must have survived the rolled-back delete.
	if _, err := db.Users().ByID(ctx, donor.ID); err != nil {
		t.Errorf("donor lookup after rollback: %v", err)
	}
}
