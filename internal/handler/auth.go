// Package handler is the HTTP surface: login initiation, OAuth callbacks,
// registration, merge and logout. Every success path answers with a 303
// redirect; failures go through writeError.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tourneyhub/identity/internal/apperror"
	"github.com/tourneyhub/identity/internal/auth"
	"github.com/tourneyhub/identity/internal/provider"
	"github.com/tourneyhub/identity/internal/repository"
	"github.com/tourneyhub/identity/internal/service"
	"github.com/tourneyhub/identity/internal/session"
)

// oauthStateCookie carries the double-submit copy of the state token between
// the login redirect and the callback.
const oauthStateCookie = "oauth_state"

// AuthHandler drives the four provider login flows.
type AuthHandler struct {
	racetime  *provider.RaceTime
	discord   *provider.Discord
	challonge *provider.Challonge
	startgg   *provider.StartGG
	state     *auth.StateService
	jar       *session.Jar
	creds     *auth.CredentialResolver
	resolver  *auth.UserResolver
	accounts  *service.AccountService
	users     repository.UserRepository
	logger    *slog.Logger
}

func NewAuthHandler(
	racetime *provider.RaceTime,
	discord *provider.Discord,
	challonge *provider.Challonge,
	startgg *provider.StartGG,
	state *auth.StateService,
	jar *session.Jar,
	creds *auth.CredentialResolver,
	resolver *auth.UserResolver,
	accounts *service.AccountService,
	users repository.UserRepository,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		racetime:  racetime,
		discord:   discord,
		challonge: challonge,
		startgg:   startgg,
		state:     state,
		jar:       jar,
		creds:     creds,
		resolver:  resolver,
		accounts:  accounts,
		users:     users,
		logger:    logger,
	}
}

// validRedirect reports whether a caller-supplied redirect_to is usable: a
// relative path that is not a callback URL. Callback paths are rejected so a
// stored redirect can never loop the browser back into the OAuth flow.
func validRedirect(uri string) bool {
	if uri == "" || !strings.HasPrefix(uri, "/") {
		return false
	}
	if strings.HasPrefix(uri, "//") {
		return false
	}
	if strings.HasPrefix(uri, "/auth/") {
		return false
	}
	return true
}

// consumeRedirect reads, clears and validates the stored post-login
// destination. The cookie is single-use.
func (h *AuthHandler) consumeRedirect(w http.ResponseWriter, r *http.Request) string {
	uri := h.jar.Redirect(r)
	if uri == "" {
		return ""
	}
	h.jar.ClearRedirect(w)
	if !validRedirect(uri) {
		return ""
	}
	return uri
}

// HandleLogin starts a provider's OAuth flow: store the optional redirect_to
// destination, issue a state token, and send the browser to the provider.
//
// Challonge and start.gg logins require an already-signed-in user; they only
// ever attach an identity, never start a session.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	var authURL func(state string) string
	switch providerName {
	case "racetime":
		authURL = h.racetime.AuthURL
	case "discord":
		authURL = h.discord.AuthURL
	case "challonge":
		authURL = h.challonge.AuthURL
	case "startgg":
		authURL = h.startgg.AuthURL
	default:
		writeError(w, apperror.NotFound("provider", providerName))
		return
	}

	if providerName == "challonge" || providerName == "startgg" {
		if _, err := h.resolver.Resolve(w, r); err != nil {
			writeError(w, err)
			return
		}
	}

	if uri := r.URL.Query().Get("redirect_to"); validRedirect(uri) {
		h.jar.SetRedirect(w, uri)
	}

	state, err := h.state.Issue(providerName)
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, authURL(state), http.StatusSeeOther)
}

// HandleCallback finishes a provider's OAuth flow. The state token must
// match the double-submit cookie, carry a valid signature, be unexpired and
// be bound to this provider.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" {
		writeError(w, apperror.ValidationFailed("state", "missing state cookie"))
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" || state != stateCookie.Value {
		h.logger.Warn("oauth callback state mismatch", slog.String("provider", providerName))
		writeError(w, apperror.ValidationFailed("state", "state mismatch"))
		return
	}
	if err := h.state.Verify(state, providerName); err != nil {
		h.logger.Warn("oauth callback state rejected",
			slog.String("provider", providerName),
			slog.String("error", err.Error()),
		)
		writeError(w, apperror.ValidationFailed("state", "invalid state token"))
		return
	}
	// Single use.
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("oauth authorization denied",
			slog.String("provider", providerName),
			slog.String("error", errParam),
		)
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing authorization code"))
		return
	}

	switch providerName {
	case "racetime":
		h.callbackRaceTime(w, r, code)
	case "discord":
		h.callbackDiscord(w, r, code)
	case "challonge":
		h.callbackChallonge(w, r, code)
	case "startgg":
		h.callbackStartGG(w, r, code)
	default:
		writeError(w, apperror.NotFound("provider", providerName))
	}
}

func (h *AuthHandler) callbackRaceTime(w http.ResponseWriter, r *http.Request, code string) {
	ctx := r.Context()

	tok, err := h.racetime.Exchange(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.jar.StoreToken(w, session.RaceTimeSlot, tok); err != nil {
		writeError(w, err)
		return
	}
	rtUser, err := h.racetime.FetchUser(ctx, tok.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.users.ByRaceTimeID(ctx, rtUser.ID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			http.Redirect(w, r, "/register/racetime", http.StatusSeeOther)
			return
		}
		writeError(w, err)
		return
	}
	h.redirectBack(w, r, "/")
}

func (h *AuthHandler) callbackDiscord(w http.ResponseWriter, r *http.Request, code string) {
	ctx := r.Context()

	tok, err := h.discord.Exchange(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.jar.StoreToken(w, session.DiscordSlot, tok); err != nil {
		writeError(w, err)
		return
	}
	dcUser, err := h.discord.FetchUser(ctx, tok.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.users.ByDiscordID(ctx, dcUser.ID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			http.Redirect(w, r, "/register/discord", http.StatusSeeOther)
			return
		}
		writeError(w, err)
		return
	}
	h.redirectBack(w, r, "/")
}

// callbackChallonge attaches a Challonge identity to the signed-in user. The
// token is used once for the profile lookup and never stored.
func (h *AuthHandler) callbackChallonge(w http.ResponseWriter, r *http.Request, code string) {
	ctx := r.Context()

	me, err := h.resolver.Resolve(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	tok, err := h.challonge.Exchange(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}
	cu, err := h.challonge.FetchUser(ctx, tok.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.accounts.AttachChallonge(ctx, me, cu.ID); err != nil {
		writeError(w, err)
		return
	}
	h.redirectBack(w, r, "/user/"+me.ID)
}

func (h *AuthHandler) callbackStartGG(w http.ResponseWriter, r *http.Request, code string) {
	ctx := r.Context()

	me, err := h.resolver.Resolve(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	tok, err := h.startgg.Exchange(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := h.startgg.FetchCurrentUserID(ctx, tok.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.accounts.AttachStartGG(ctx, me, id); err != nil {
		writeError(w, err)
		return
	}
	h.redirectBack(w, r, "/user/"+me.ID)
}

// HandleRegisterRaceTime turns the racetime.gg credential in the session
// into a local account, or attaches it to the user signed in through
// Discord.
func (h *AuthHandler) HandleRegisterRaceTime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rtUser, err := h.creds.RaceTime(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if rtUser == nil {
		writeError(w, apperror.CredentialMissing("sign in with racetime.gg first"))
		return
	}

	me := h.resolver.Optional(w, r)
	u, err := h.accounts.RegisterRaceTime(ctx, me, rtUser)
	if err != nil {
		writeError(w, err)
		return
	}
	h.redirectBack(w, r, "/user/"+u.ID)
}

// HandleRegisterDiscord is the Discord counterpart of HandleRegisterRaceTime.
func (h *AuthHandler) HandleRegisterDiscord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dcUser, err := h.creds.Discord(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if dcUser == nil {
		writeError(w, apperror.CredentialMissing("sign in with Discord first"))
		return
	}

	me := h.resolver.Optional(w, r)
	u, err := h.accounts.RegisterDiscord(ctx, me, dcUser)
	if err != nil {
		writeError(w, err)
		return
	}
	h.redirectBack(w, r, "/user/"+u.ID)
}

// HandleMerge reconciles the signed-in user with a second provider identity
// owned by a different account. Both provider credentials must be present in
// the session.
func (h *AuthHandler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	me, err := h.resolver.Resolve(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	rtUser, err := h.creds.RaceTime(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	dcUser, err := h.creds.Discord(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	survivor, err := h.accounts.Merge(ctx, me, rtUser, dcUser)
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, "/user/"+survivor.ID, http.StatusSeeOther)
}

// HandleLogout clears the credential cookies and redirects. The database is
// never touched.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.jar.ClearCredentials(w)

	target := "/"
	if uri := r.URL.Query().Get("redirect_to"); validRedirect(uri) {
		target = uri
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// redirectBack sends the browser to the stored redirect_to destination,
// falling back to def.
func (h *AuthHandler) redirectBack(w http.ResponseWriter, r *http.Request, def string) {
	target := h.consumeRedirect(w, r)
	if target == "" {
		target = def
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
