// services/racetime_client.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RacetimeEntrant is one runner's result in a racetime.gg room.
type RacetimeEntrant struct {
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	Status struct {
		Value string `json:"value"`
	} `json:"status"`
	FinishedAt *time.Time `json:"finished_at"`
}

// RacetimeRace is the subset of racetime.gg room data the recorder needs.
type RacetimeRace struct {
	Name   string `json:"name"`
	Status struct {
		Value string `json:"value"`
	} `json:"status"`
	StartedAt *time.Time        `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at"`
	Entrants  []RacetimeEntrant `json:"entrants"`
}

// RaceFetcher loads a finished room from racetime.gg. Tests substitute a
// canned implementation.
type RaceFetcher interface {
	FetchRace(ctx context.Context, slug string) (*RacetimeRace, error)
}

type RacetimeClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewRacetimeClient(baseURL string) *RacetimeClient {
	return &RacetimeClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// FetchRace pulls the public room data document, e.g. GET /alttpr/banzai-crosskeys-1234/data.
func (c *RacetimeClient) FetchRace(ctx context.Context, slug string) (*RacetimeRace, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/%s/data", c.BaseURL, slug), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call racetime: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("racetime returned status %d: %s", resp.StatusCode, string(body))
	}

	var race RacetimeRace
	if err := json.NewDecoder(resp.Body).Decode(&race); err != nil {
		return nil, fmt.Errorf("failed to decode racetime response: %w", err)
	}
	return &race, nil
}
