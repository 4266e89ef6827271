// services/seed_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SeedGenerator rolls game seeds for a preset. Implemented over HTTP against
// the randomizer API; tests substitute their own.
type SeedGenerator interface {
	Generate(ctx context.Context, preset string) (url string, err error)
}

type SeedClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewSeedClient(baseURL, token string) *SeedClient {
	return &SeedClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Generate calls the randomizer and returns the permalink URL of the rolled
// seed. Rolling can take a while, the client timeout is sized for it.
func (c *SeedClient) Generate(ctx context.Context, preset string) (string, error) {
	reqBody := map[string]string{"preset": preset}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/api/seed", c.BaseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call seed service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("seed service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode seed service response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("seed service returned empty url")
	}
	return out.URL, nil
}
