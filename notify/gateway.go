package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewaySink talks to the bot gateway's internal HTTP API. The gateway owns
// the Discord session and exposes thread and message endpoints to us.
type GatewaySink struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewGatewaySink(baseURL, token string) *GatewaySink {
	return &GatewaySink{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *GatewaySink) post(path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, g.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.Token)

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (g *GatewaySink) OpenThread(channelID, name string) (string, error) {
	var result struct {
		ThreadID string `json:"thread_id"`
	}
	err := g.post("/internal/threads", map[string]string{
		"channel_id": channelID,
		"name":       name,
		"type":       "private",
	}, &result)
	if err != nil {
		return "", err
	}
	return result.ThreadID, nil
}

func (g *GatewaySink) Send(threadID, content string) error {
	return g.post("/internal/messages", map[string]string{
		"channel_id": threadID,
		"content":    content,
	}, nil)
}

func (g *GatewaySink) Announce(channelID, content string) error {
	return g.Send(channelID, content)
}
