package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginSendsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		var body credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gardener@example.com", body.Email)
		_ = json.NewEncoder(w).Encode(Session{
			AccessToken: "tok",
			User:        User{ID: "u1", Email: "Gardener@Example.com"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "anon")
	sess, err := c.Login(context.Background(), "gardener@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok", sess.AccessToken)
	assert.Equal(t, "gardener@example.com", sess.User.AccountID())
}

func TestSignUpSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(" weak password "))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "anon").SignUp(context.Background(), "a@b.c", "x")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Equal(t, "weak password", se.Body)
}

func TestVerifyAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_ = json.NewEncoder(w).Encode(User{ID: "u1", Email: "Ivy@Example.com"})
		case "Bearer noemail":
			_ = json.NewEncoder(w).Encode(User{ID: "u2"})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "anon", WithHTTPClient(srv.Client()))

	user, err := c.VerifyAccessToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "ivy@example.com", user.AccountID())

	_, err = c.VerifyAccessToken(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = c.VerifyAccessToken(context.Background(), "noemail")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = c.VerifyAccessToken(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
