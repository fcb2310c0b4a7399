package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperr "rental-docflow/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeycloakServer(t *testing.T, tokenCalls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/realms/rentals/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "tok", ExpiresIn: 300})
	})
	mux.HandleFunc("/admin/realms/rentals/users/u-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(User{
			ID:         "u-1",
			Email:      "landlord@example.com",
			Attributes: map[string][]string{"property_ids": {"p-1", "p-2"}},
		})
	})
	mux.HandleFunc("/admin/realms/rentals/users/u-1/role-mappings/realm", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]RoleRepresentation{{Name: "offline_access"}, {Name: "landlord"}})
	})
	mux.HandleFunc("/admin/realms/rentals/users/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

func TestKeycloakClient_GetUserAndRoles(t *testing.T) {
	var tokenCalls int32
	server := newKeycloakServer(t, &tokenCalls)
	defer server.Close()

	client := NewKeycloakClient(server.URL+"/", "rentals", "docflow", "secret", time.Second)
	ctx := context.Background()

	user, err := client.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1", "p-2"}, user.Attribute("property_ids"))
	assert.Nil(t, user.Attribute("vendor_id"))

	roles, err := client.GetRealmRoles(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"offline_access", "landlord"}, roles)

	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls), "token is cached between calls")
}

func TestKeycloakClient_UserNotFound(t *testing.T) {
	var tokenCalls int32
	server := newKeycloakServer(t, &tokenCalls)
	defer server.Close()

	client := NewKeycloakClient(server.URL, "rentals", "docflow", "secret", time.Second)
	_, err := client.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
