package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"strategylab/pkg/domain"
)

// ErrInvalidToken indicates the identity provider rejected the token.
// Terminal for the request; never retried.
var ErrInvalidToken = errors.New("invalid or expired token")

// Client verifies bearer tokens against the identity provider's
// introspection endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs an identity provider client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Introspect verifies the token and returns the caller's identity.
func (c *Client) Introspect(ctx context.Context, token string) (domain.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/userinfo", nil)
	if err != nil {
		return domain.Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return domain.Identity{}, ErrInvalidToken
	}
	if resp.StatusCode >= 400 {
		return domain.Identity{}, fmt.Errorf("identity provider error: %s", resp.Status)
	}
	var payload struct {
		ID    string `json:"id"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	id := strings.TrimSpace(payload.ID)
	if id == "" {
		id = strings.TrimSpace(payload.Sub)
	}
	if id == "" {
		return domain.Identity{}, ErrInvalidToken
	}
	return domain.Identity{
		ID:    id,
		Email: strings.TrimSpace(payload.Email),
		Name:  strings.TrimSpace(payload.Name),
	}, nil
}
