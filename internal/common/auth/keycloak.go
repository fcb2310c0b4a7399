// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperr "rental-docflow/internal/common/errors"
)

// KeycloakClient reads users and realm roles through the Keycloak admin API
// using a client-credentials service account.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// User represents a user in Keycloak. Attributes hold the property, vendor and
// phone associations the rental platform writes on the user.
type User struct {
	ID         string              `json:"id"`
	Username   string              `json:"username"`
	Email      string              `json:"email"`
	FirstName  string              `json:"firstName"`
	LastName   string              `json:"lastName"`
	Enabled    bool                `json:"enabled"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Attribute returns the values stored under key.
func (u *User) Attribute(key string) []string {
	if u.Attributes == nil {
		return nil
	}
	return u.Attributes[key]
}

// RoleRepresentation is one realm role mapping.
type RoleRepresentation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TokenResponse holds the response from Keycloak's token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func NewKeycloakClient(baseURL, realm, clientID, clientSecret string, timeout time.Duration) *KeycloakClient {
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// token returns a cached service-account token, refreshing it 30s before expiry.
func (k *KeycloakClient) token(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.accessToken != "" && time.Now().Add(30*time.Second).Before(k.tokenExpiry) {
		return k.accessToken, nil
	}

	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.baseURL, k.realm)
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", apperr.NewExternalServiceUnavailableError("keycloak", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", apperr.NewExternalServiceUnavailableError("keycloak",
			fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body)))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	k.accessToken = tokenResp.AccessToken
	k.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return k.accessToken, nil
}

// GetUser fetches a user by id. A missing user yields a NOT_FOUND error.
func (k *KeycloakClient) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	path := fmt.Sprintf("/admin/realms/%s/users/%s", k.realm, url.PathEscape(userID))
	if err := k.getJSON(ctx, path, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetRealmRoles lists the realm roles mapped to a user.
func (k *KeycloakClient) GetRealmRoles(ctx context.Context, userID string) ([]string, error) {
	var roles []RoleRepresentation
	path := fmt.Sprintf("/admin/realms/%s/users/%s/role-mappings/realm", k.realm, url.PathEscape(userID))
	if err := k.getJSON(ctx, path, &roles); err != nil {
		return nil, err
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return names, nil
}

func (k *KeycloakClient) getJSON(ctx context.Context, path string, out interface{}) error {
	token, err := k.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return apperr.NewExternalServiceUnavailableError("keycloak", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NewNotFoundError("keycloak user", path)
	case resp.StatusCode == http.StatusUnauthorized:
		k.mu.Lock()
		k.accessToken = ""
		k.mu.Unlock()
		return apperr.NewExternalServiceUnavailableError("keycloak", fmt.Errorf("service account token rejected"))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.NewExternalServiceUnavailableError("keycloak",
			fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode keycloak response: %w", err)
	}
	return nil
}
