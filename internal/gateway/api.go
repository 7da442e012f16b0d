package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/cybercyphers/cyphbeta/internal/backend"
)

// apiClient speaks the gateway's request/response HTTP API.
type apiClient struct {
	base   string
	client *http.Client

	mu    sync.RWMutex
	token string
}

type sendRequest struct {
	Chat string `json:"chat"`
	Text string `json:"text"`
}

type sendResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

type presenceRequest struct {
	Presence backend.Presence `json:"presence"`
}

type pairingRequest struct {
	Phone string `json:"phone"`
}

type pairingResponse struct {
	Code string `json:"code"`
}

func newAPIClient(base string, client *http.Client, token string) *apiClient {
	return &apiClient{base: strings.TrimRight(base, "/"), client: client, token: token}
}

func (c *apiClient) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *apiClient) SendText(ctx context.Context, chat, text string) (string, error) {
	var sr sendResponse
	body, err := c.post(ctx, "/v1/messages", sendRequest{Chat: chat, Text: text}, http.StatusAccepted, &sr)
	if err != nil {
		return "", err
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("missing messageId in response body=%q", body)
	}
	return sr.MessageID, nil
}

func (c *apiClient) SendPresence(ctx context.Context, p backend.Presence) error {
	_, err := c.post(ctx, "/v1/presence", presenceRequest{Presence: p}, 0, nil)
	return err
}

func (c *apiClient) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	var pr pairingResponse
	body, err := c.post(ctx, "/v1/pairing-code", pairingRequest{Phone: phone}, http.StatusOK, &pr)
	if err != nil {
		return "", err
	}
	if pr.Code == "" {
		return "", fmt.Errorf("missing code in response body=%q", body)
	}
	return pr.Code, nil
}

// post sends v as JSON. want == 0 accepts any 2xx. out may be nil.
func (c *apiClient) post(ctx context.Context, path string, v any, want int, out any) (string, error) {
	reqBody, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)

	ok := resp.StatusCode == want
	if want == 0 {
		ok = resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	if !ok {
		return body, fmt.Errorf("%s: unexpected status code: %d body=%q", path, resp.StatusCode, body)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return body, fmt.Errorf("%s: failed to decode json: %w body=%q", path, err, body)
		}
	}
	return body, nil
}
