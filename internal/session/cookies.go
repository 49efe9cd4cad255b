// Package session manages the per-provider credential cookies. The access
// and refresh tokens handed out by racetime.gg and Discord live in
// encrypted, signed cookies; nothing credential-shaped is ever persisted
// server-side.
package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/oauth2"
)

// Credential cookie names. These are part of the deployed surface — renaming
// one logs every user out.
const (
	RaceTimeToken        = "racetime_token"
	RaceTimeRefreshToken = "racetime_refresh_token"
	DiscordToken         = "discord_token"
	DiscordRefreshToken  = "discord_refresh_token"
	RedirectTo           = "redirect_to"
)

// credentialCookies is every encrypted cookie cleared on logout.
var credentialCookies = []string{
	RaceTimeToken,
	RaceTimeRefreshToken,
	DiscordToken,
	DiscordRefreshToken,
}

// Slot names the cookie pair a provider's tokens are stored in.
type Slot struct {
	Token   string
	Refresh string
}

var (
	RaceTimeSlot = Slot{Token: RaceTimeToken, Refresh: RaceTimeRefreshToken}
	DiscordSlot  = Slot{Token: DiscordToken, Refresh: DiscordRefreshToken}
)

// expiryMargin is subtracted from the provider-reported token expiry when
// setting the access cookie, so the cookie dies before the token does and a
// request never races an expiring token.
const expiryMargin = 60 * time.Second

// permanentMaxAge is the refresh cookie lifetime: 400 days, the longest
// expiry browsers honor.
const permanentMaxAge = int(400 * 24 * time.Hour / time.Second)

// Jar encrypts, signs, and reads the credential cookies.
type Jar struct {
	codec  *securecookie.SecureCookie
	secure bool
}

// NewJar creates a Jar. hashKey must be 32 or 64 bytes; blockKey must be
// 16, 24 or 32 bytes (it selects AES-128/192/256).
func NewJar(hashKey, blockKey []byte, secure bool) (*Jar, error) {
	if len(hashKey) != 32 && len(hashKey) != 64 {
		return nil, errors.New("session: hash key must be 32 or 64 bytes")
	}
	switch len(blockKey) {
	case 16, 24, 32:
	default:
		return nil, errors.New("session: block key must be 16, 24 or 32 bytes")
	}
	return &Jar{
		codec:  securecookie.New(hashKey, blockKey),
		secure: secure,
	}, nil
}

// Get reads and decrypts a credential cookie. A missing, tampered or
// expired cookie reads as absent — an invalid credential cookie is
// indistinguishable from no credential.
func (j *Jar) Get(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	var value string
	if err := j.codec.Decode(name, cookie.Value, &value); err != nil {
		return "", false
	}
	return value, value != ""
}

// StoreToken persists a provider token pair into the slot's cookies.
//
// The access cookie's lifetime is the provider-reported expiry minus a 60
// second margin, or session-scoped when the provider reports no expiry. The
// refresh cookie, when the provider sent one, is set permanent.
func (j *Jar) StoreToken(w http.ResponseWriter, slot Slot, tok *oauth2.Token) error {
	maxAge := 0 // session-scoped
	if !tok.Expiry.IsZero() {
		remaining := time.Until(tok.Expiry) - expiryMargin
		if remaining < 0 {
			remaining = 0
		}
		maxAge = int(remaining.Seconds())
	}
	if err := j.set(w, slot.Token, tok.AccessToken, maxAge); err != nil {
		return err
	}
	if tok.RefreshToken != "" {
		if err := j.set(w, slot.Refresh, tok.RefreshToken, permanentMaxAge); err != nil {
			return err
		}
	}
	return nil
}

func (j *Jar) set(w http.ResponseWriter, name, value string, maxAge int) error {
	encoded, err := j.codec.Encode(name, value)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    encoded,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear deletes one cookie.
func (j *Jar) Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCredentials deletes all four provider credential cookies. Logout is
// exactly this — no database involvement.
func (j *Jar) ClearCredentials(w http.ResponseWriter) {
	for _, name := range credentialCookies {
		j.Clear(w, name)
	}
}

// SetRedirect stores the post-login destination. The cookie is plaintext:
// it is server-set only and validated again when read.
func (j *Jar) SetRedirect(w http.ResponseWriter, uri string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RedirectTo,
		Value:    uri,
		Path:     "/",
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Redirect reads the stored post-login destination, or "" if none.
func (j *Jar) Redirect(r *http.Request) string {
	cookie, err := r.Cookie(RedirectTo)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ClearRedirect removes the stored destination once it has been used.
func (j *Jar) ClearRedirect(w http.ResponseWriter) {
	j.Clear(w, RedirectTo)
}
