package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	sqlite3 "modernc.org/sqlite"

	"github.com/tourneyhub/identity/internal/apperror"
	"github.com/tourneyhub/identity/internal/identity"
	"github.com/tourneyhub/identity/internal/model"
	"github.com/tourneyhub/identity/internal/repository"
)

// compile-time check that *UserStore implements repository.UserRepository
var _ repository.UserRepository = (*UserStore)(nil)

// UserStore runs user queries against either the pool or a transaction.
type UserStore struct {
	q querier
}

const userColumns = `id, display_source,
	racetime_id, racetime_display_name, racetime_discriminator, racetime_pronouns,
	discord_id, discord_display_name, discord_discriminator, discord_username,
	challonge_id, startgg_id, created_at, updated_at`

// SQLite extended result codes for UNIQUE/PRIMARY KEY constraint failures.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

func isUniqueViolation(err error) bool {
	var se *sqlite3.Error
	if errors.As(err, &se) {
		return se.Code() == sqliteConstraintUnique || se.Code() == sqliteConstraintPrimaryKey
	}
	return false
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*model.User, error) {
	var (
		u            model.User
		racetimeID   sql.NullString
		racetimeName sql.NullString
		racetimeDisc sql.NullInt64
		pronouns     sql.NullString
		discordID    sql.NullInt64
		discordName  sql.NullString
		discordDisc  sql.NullInt64
		discordUname sql.NullString
		challongeID  sql.NullString
		startggID    sql.NullString
	)
	err := row.Scan(
		&u.ID, &u.DisplaySource,
		&racetimeID, &racetimeName, &racetimeDisc, &pronouns,
		&discordID, &discordName, &discordDisc, &discordUname,
		&challongeID, &startggID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if racetimeID.Valid {
		link := &model.RaceTimeLink{
			ID:          racetimeID.String,
			DisplayName: racetimeName.String,
		}
		if racetimeDisc.Valid {
			d := identity.Discriminator(racetimeDisc.Int64)
			link.Discriminator = &d
		}
		if pronouns.Valid {
			link.Pronouns = &pronouns.String
		}
		u.RaceTime = link
	}
	if discordID.Valid {
		link := &model.DiscordLink{
			ID:          identity.Snowflake(discordID.Int64),
			DisplayName: discordName.String,
		}
		if discordDisc.Valid {
			d := identity.Discriminator(discordDisc.Int64)
			link.Discriminator = &d
		}
		if discordUname.Valid {
			link.Username = &discordUname.String
		}
		u.Discord = link
	}
	if challongeID.Valid {
		u.ChallongeID = &challongeID.String
	}
	if startggID.Valid {
		u.StartGGID = &startggID.String
	}
	return &u, nil
}

// nullDisc converts an optional discriminator for binding.
func nullDisc(d *identity.Discriminator) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (s *UserStore) byWhere(ctx context.Context, where string, arg any) (*model.User, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", fmt.Sprint(arg))
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", where, err)
	}
	return u, nil
}

// ByID retrieves a user by internal id.
func (s *UserStore) ByID(ctx context.Context, id string) (*model.User, error) {
	return s.byWhere(ctx, "id = ?", id)
}

// ByRaceTimeID retrieves the user holding the given racetime.gg identity.
func (s *UserStore) ByRaceTimeID(ctx context.Context, racetimeID string) (*model.User, error) {
	return s.byWhere(ctx, "racetime_id = ?", racetimeID)
}

// ByDiscordID retrieves the user holding the given Discord identity.
func (s *UserStore) ByDiscordID(ctx context.Context, discordID identity.Snowflake) (*model.User, error) {
	return s.byWhere(ctx, "discord_id = ?", int64(discordID))
}

// Create inserts a new user. If u.ID is empty a new id is generated first,
// so callers inside a transaction can reference it immediately.
func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = xid.New().String()
	}
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now

	var (
		racetimeID, racetimeName         sql.NullString
		racetimeDisc                     sql.NullInt64
		pronouns                         sql.NullString
		discordID, discordDisc           sql.NullInt64
		discordName, discordUname        sql.NullString
		challongeID, startggID           sql.NullString
	)
	if u.RaceTime != nil {
		racetimeID = sql.NullString{String: u.RaceTime.ID, Valid: true}
		racetimeName = sql.NullString{String: u.RaceTime.DisplayName, Valid: true}
		racetimeDisc = nullDisc(u.RaceTime.Discriminator)
		pronouns = nullStr(u.RaceTime.Pronouns)
	}
	if u.Discord != nil {
		discordID = sql.NullInt64{Int64: int64(u.Discord.ID), Valid: true}
		discordName = sql.NullString{String: u.Discord.DisplayName, Valid: true}
		discordDisc = nullDisc(u.Discord.Discriminator)
		discordUname = nullStr(u.Discord.Username)
	}
	challongeID = nullStr(u.ChallongeID)
	startggID = nullStr(u.StartGGID)

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, display_source,
			racetime_id, racetime_display_name, racetime_discriminator, racetime_pronouns,
			discord_id, discord_display_name, discord_discriminator, discord_username,
			challonge_id, startgg_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.DisplaySource,
		racetimeID, racetimeName, racetimeDisc, pronouns,
		discordID, discordName, discordDisc, discordUname,
		challongeID, startggID, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("an account with this external identity already exists")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", u.ID, err)
	}
	return nil
}

// Delete removes a user row.
func (s *UserStore) Delete(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// ExistsRaceTime reports whether any user holds the racetime.gg id.
func (s *UserStore) ExistsRaceTime(ctx context.Context, racetimeID string) (bool, error) {
	return s.exists(ctx, "racetime_id = ?", racetimeID)
}

// ExistsDiscord reports whether any user holds the Discord id.
func (s *UserStore) ExistsDiscord(ctx context.Context, discordID identity.Snowflake) (bool, error) {
	return s.exists(ctx, "discord_id = ?", int64(discordID))
}

func (s *UserStore) exists(ctx context.Context, where string, arg any) (bool, error) {
	var found bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE `+where+`)`, arg,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking %s: %w", where, err)
	}
	return found, nil
}

// AttachRaceTime links a racetime.gg identity to an existing user.
func (s *UserStore) AttachRaceTime(ctx context.Context, userID string, link model.RaceTimeLink) error {
	return s.update(ctx, userID, "linking racetime account",
		`UPDATE users SET racetime_id = ?, racetime_display_name = ?,
			racetime_discriminator = ?, racetime_pronouns = ?, updated_at = ?
		 WHERE id = ?`,
		link.ID, link.DisplayName, nullDisc(link.Discriminator), nullStr(link.Pronouns),
		time.Now(), userID,
	)
}

// AttachDiscord links a Discord identity to an existing user.
func (s *UserStore) AttachDiscord(ctx context.Context, userID string, link model.DiscordLink) error {
	return s.update(ctx, userID, "linking discord account",
		`UPDATE users SET discord_id = ?, discord_display_name = ?,
			discord_discriminator = ?, discord_username = ?, updated_at = ?
		 WHERE id = ?`,
		int64(link.ID), link.DisplayName, nullDisc(link.Discriminator), nullStr(link.Username),
		time.Now(), userID,
	)
}

// AttachChallonge links a Challonge identity to an existing user.
func (s *UserStore) AttachChallonge(ctx context.Context, userID, challongeID string) error {
	return s.update(ctx, userID, "linking challonge account",
		`UPDATE users SET challonge_id = ?, updated_at = ? WHERE id = ?`,
		challongeID, time.Now(), userID,
	)
}

// AttachStartGG links a start.gg identity to an existing user.
func (s *UserStore) AttachStartGG(ctx context.Context, userID, startggID string) error {
	return s.update(ctx, userID, "linking startgg account",
		`UPDATE users SET startgg_id = ?, updated_at = ? WHERE id = ?`,
		startggID, time.Now(), userID,
	)
}

// UpdateRaceTimeProfile refreshes cached racetime.gg display fields. The
// external id column is untouched.
func (s *UserStore) UpdateRaceTimeProfile(ctx context.Context, userID string, link model.RaceTimeLink) error {
	return s.update(ctx, userID, "refreshing racetime profile",
		`UPDATE users SET racetime_display_name = ?, racetime_discriminator = ?,
			racetime_pronouns = ?, updated_at = ?
		 WHERE id = ?`,
		link.DisplayName, nullDisc(link.Discriminator), nullStr(link.Pronouns),
		time.Now(), userID,
	)
}

// UpdateDiscordProfile refreshes cached Discord display fields.
func (s *UserStore) UpdateDiscordProfile(ctx context.Context, userID string, link model.DiscordLink) error {
	return s.update(ctx, userID, "refreshing discord profile",
		`UPDATE users SET discord_display_name = ?, discord_discriminator = ?,
			discord_username = ?, updated_at = ?
		 WHERE id = ?`,
		link.DisplayName, nullDisc(link.Discriminator), nullStr(link.Username),
		time.Now(), userID,
	)
}

func (s *UserStore) update(ctx context.Context, userID, action, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("this external identity is already linked to another account")
		}
		return fmt.Errorf("sqlite: %s for user %s: %w", action, userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s for user %s: %w", action, userID, err)
	}
	if affected == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// ViewAsTarget returns the view-as target for the viewer, or "" when no
// mapping exists.
func (s *UserStore) ViewAsTarget(ctx context.Context, viewerID string) (string, error) {
	var target string
	err := s.q.QueryRowContext(ctx,
		`SELECT view_as FROM view_as WHERE viewer = ?`, viewerID,
	).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: getting view_as for %s: %w", viewerID, err)
	}
	return target, nil
}

// SetViewAs installs (or replaces) a view-as mapping.
func (s *UserStore) SetViewAs(ctx context.Context, viewerID, targetID string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO view_as (viewer, view_as) VALUES (?, ?)
		 ON CONFLICT (viewer) DO UPDATE SET view_as = excluded.view_as`,
		viewerID, targetID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting view_as for %s: %w", viewerID, err)
	}
	return nil
}

// ClearViewAs removes a viewer's mapping, if any.
func (s *UserStore) ClearViewAs(ctx context.Context, viewerID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM view_as WHERE viewer = ?`, viewerID)
	if err != nil {
		return fmt.Errorf("sqlite: clearing view_as for %s: %w", viewerID, err)
	}
	return nil
}
