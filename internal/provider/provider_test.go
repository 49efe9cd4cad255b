package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourneyhub/identity/internal/apperror"
)

func TestRaceTimeFetchUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/o/userinfo", r.URL.Path)
		assert.Equal(t, "Bearer access-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"xldAMBlqvY5lJoaR","name":"fenhl","discriminator":"4813","pronouns":"he/him"}`))
	}))
	defer srv.Close()

	p := NewRaceTime("cid", "secret", "http://localhost/auth/racetime", "racetime.gg", srv.Client())
	p.base = srv.URL

	u, err := p.FetchUser(context.Background(), "access-123")
	require.NoError(t, err)
	assert.Equal(t, "xldAMBlqvY5lJoaR", u.ID)
	assert.Equal(t, "fenhl", u.Name)
	require.NotNil(t, u.Discriminator)
	assert.Equal(t, "4813", u.Discriminator.String())
	require.NotNil(t, u.Pronouns)
	assert.Equal(t, "he/him", *u.Pronouns)
}

func TestRaceTimeFetchUser_NullDiscriminator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"abc","name":"racer","discriminator":null,"pronouns":null}`))
	}))
	defer srv.Close()

	p := NewRaceTime("cid", "secret", "", "racetime.gg", srv.Client())
	p.base = srv.URL

	u, err := p.FetchUser(context.Background(), "tok")
	require.NoError(t, err)
	assert.Nil(t, u.Discriminator)
	assert.Nil(t, u.Pronouns)
}

func TestFetchUser_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_token"}`))
	}))
	defer srv.Close()

	p := NewRaceTime("cid", "secret", "", "racetime.gg", srv.Client())
	p.base = srv.URL

	_, err := p.FetchUser(context.Background(), "stale")
	require.Error(t, err)

	// The body must be carried for diagnostics, and the error must classify
	// as an upstream failure.
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.Contains(t, upstream.Body, "invalid_token")
	assert.ErrorIs(t, err, apperror.ErrUpstream)
}

func TestFetchUser_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	p := NewRaceTime("cid", "secret", "", "racetime.gg", http.DefaultClient)
	p.base = srv.URL

	_, err := p.FetchUser(context.Background(), "tok")
	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.ErrorIs(t, err, apperror.ErrUpstream)
}

func TestDiscordFetchUser_LegacyAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/@me", r.URL.Path)
		w.Write([]byte(`{"id":"86246794226581504","username":"oldtimer","global_name":null,"discriminator":"1337"}`))
	}))
	defer srv.Close()

	p := NewDiscord("cid", "secret", "", srv.Client())
	p.apiBase = srv.URL

	u, err := p.FetchUser(context.Background(), "tok")
	require.NoError(t, err)
	assert.EqualValues(t, 86246794226581504, u.ID)
	require.NotNil(t, u.Discriminator)
	assert.Equal(t, "1337", u.Discriminator.String())

	display, username := u.DisplayFields()
	assert.Equal(t, "oldtimer", display)
	assert.Nil(t, username)
}

func TestDiscordFetchUser_MigratedAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"4","username":"newstyle","global_name":"New Style","discriminator":"0"}`))
	}))
	defer srv.Close()

	p := NewDiscord("cid", "secret", "", srv.Client())
	p.apiBase = srv.URL

	u, err := p.FetchUser(context.Background(), "tok")
	require.NoError(t, err)
	// Discriminator "0" marks a migrated account: absent, not stored as 0000.
	assert.Nil(t, u.Discriminator)

	display, username := u.DisplayFields()
	assert.Equal(t, "New Style", display)
	require.NotNil(t, username)
	assert.Equal(t, "newstyle", *username)
}

func TestDiscordDisplayFields_MigratedWithoutGlobalName(t *testing.T) {
	u := &DiscordUser{ID: 7, Username: "plain"}
	display, username := u.DisplayFields()
	assert.Equal(t, "plain", display)
	require.NotNil(t, username)
	assert.Equal(t, "plain", *username)
}

func TestChallongeFetchUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/me.json", r.URL.Path)
		assert.Equal(t, "v2", r.Header.Get("Authorization-Type"))
		assert.Equal(t, "application/vnd.api+json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"data":{"id":"ch-42","type":"user"}}`))
	}))
	defer srv.Close()

	p := NewChallonge("cid", "secret", "", srv.Client())
	p.apiBase = srv.URL

	u, err := p.FetchUser(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "ch-42", u.ID)
}

func TestStartGGFetchCurrentUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"data":{"currentUser":{"id":123456}}}`))
	}))
	defer srv.Close()

	p := NewStartGG("cid", "secret", "", srv.Client())
	p.gqlURL = srv.URL

	id, err := p.FetchCurrentUserID(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "123456", id)
}

func TestStartGGFetchCurrentUserID_MissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"currentUser":null}}`))
	}))
	defer srv.Close()

	p := NewStartGG("cid", "secret", "", srv.Client())
	p.gqlURL = srv.URL

	_, err := p.FetchCurrentUserID(context.Background(), "tok")
	assert.True(t, errors.Is(err, ErrGraphQLResponse))
}

func TestRefresh_RotatesTokenPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "old-refresh", r.FormValue("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":36000}`))
	}))
	defer srv.Close()

	p := NewRaceTime("cid", "secret", "", "racetime.gg", srv.Client())
	p.config.Endpoint.TokenURL = srv.URL + "/o/token"

	tok, err := p.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, "new-refresh", tok.RefreshToken)
	assert.False(t, tok.Expiry.IsZero())
}

func TestRefresh_UpstreamRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	p := NewDiscord("cid", "secret", "", srv.Client())
	p.config.Endpoint.TokenURL = srv.URL + "/api/oauth2/token"

	_, err := p.Refresh(context.Background(), "stale")
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Contains(t, upstream.Body, "invalid_grant")
}
