/**
 * @description
 * Client for the simulation service. A simulation calculates what the settlement system
 * would pay for an order without booking anything.
 */
package simuleringclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/transfa/spenn-service/internal/domain"
	"github.com/transfa/spenn-service/internal/oppdrag"
)

// Client is a client for the simulation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new simulation service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Simulate sends the request and returns the service's verdict. A functional rejection
// comes back as a result with status FEIL, not as an error.
func (c *Client) Simulate(ctx context.Context, request oppdrag.SimulationRequest) (domain.SimulationResult, error) {
	if c.baseURL == "" {
		return domain.SimulationResult{}, fmt.Errorf("simulation service base url is not configured")
	}

	body, err := json.Marshal(request)
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("failed to marshal simulation request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/simulering", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("failed to execute request to simulation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.SimulationResult{}, fmt.Errorf("simulation service returned error status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result domain.SimulationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.SimulationResult{}, fmt.Errorf("failed to decode simulation response: %w", err)
	}
	if result.Status != domain.SimulationOK && result.Status != domain.SimulationFailed {
		return domain.SimulationResult{}, fmt.Errorf("simulation service returned unknown status %q", result.Status)
	}
	return result, nil
}
