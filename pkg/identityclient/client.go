/**
 * @description
 * This package provides a client for the identity service. It maps an actor id
 * (aktørId) from the case-handling system to the national identity number the
 * settlement system registers orders to.
 */
package identityclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the identity service does not know the actor id.
var ErrNotFound = errors.New("identity not found")

// Client is a client for the identity service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new identity service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type identityResponse struct {
	NationalID string `json:"fødselsnummer"`
}

// Resolve returns the national id registered for actorID.
func (c *Client) Resolve(ctx context.Context, actorID string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("identity service base url is empty")
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", fmt.Errorf("%w: empty actor id", ErrNotFound)
	}

	endpoint := fmt.Sprintf("%s/api/v1/identer/%s", c.baseURL, url.PathEscape(actorID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-Internal-API-Key", key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request to identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("identity service returned error status %d", resp.StatusCode)
	}

	var body identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if strings.TrimSpace(body.NationalID) == "" {
		return "", fmt.Errorf("%w: actor %s has no national id", ErrNotFound, actorID)
	}
	return body.NationalID, nil
}
