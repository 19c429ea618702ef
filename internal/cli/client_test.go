package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pomopatch/internal/garden"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePlantRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/accounts/me/plants", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"plant_type": "flower", "x": 1.0, "y": 2.0}, body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(garden.CreatePlantResult{
			Plant:         garden.Plant{ID: 3, Species: "Daisy", Position: &garden.Position{X: 1, Y: 2}},
			CostMicros:    garden.PlantCostMicros,
			BalanceMicros: 150 * garden.MicrosPerCoin,
		})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL+"/").CreatePlant(context.Background(), "tok", garden.PlantFlower, &garden.Position{X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Plant.ID)
	assert.Equal(t, 150*garden.MicrosPerCoin, out.BalanceMicros)
}

func TestAPIErrorCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/me/plants/9/grow", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"policy violation: insufficient water"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GrowPlant(context.Background(), "tok", 9)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "policy violation: insufficient water", apiErr.Message)
}

func TestLedgerQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/me/ledger", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"entries":[{"id":2,"action":"plant_sale","balance_delta_micros":50000000}]}`))
	}))
	defer srv.Close()

	entries, err := NewClient(srv.URL).Ledger(context.Background(), "tok", 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "plant_sale", entries[0].Action)
}

func TestSignupSurfacesWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/signup", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"access_token":"tok","user":{"id":"u1","email":"ivy@example.com"},"warning":"garden account not created: policy violation: display name already taken"}`))
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL).Signup(context.Background(), "ivy@example.com", "hunter22", "Ivy")
	require.NoError(t, err)
	assert.Equal(t, "tok", out.AccessToken)
	assert.Contains(t, out.Warning, "display name already taken")
}

func TestRefreshSendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/refresh", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body["refresh_token"])
		_, _ = w.Write([]byte(`{"access_token":"new","refresh_token":"r2","user":{"id":"u1","email":"ivy@example.com"}}`))
	}))
	defer srv.Close()

	session, err := NewClient(srv.URL).Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "new", session.AccessToken)
	assert.Equal(t, "r2", session.RefreshToken)
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("PATCHCTL_HOME", t.TempDir())

	_, err := LoadSession()
	require.Error(t, err)

	require.NoError(t, SaveSession(Session{AccessToken: "tok", Email: "ivy@example.com"}))
	s, err := LoadSession()
	require.NoError(t, err)
	assert.Equal(t, "ivy@example.com", s.Email)

	require.NoError(t, ClearSession())
	_, err = LoadSession()
	assert.Error(t, err)
	assert.NoError(t, ClearSession())
}
