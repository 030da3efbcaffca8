package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trustnet/centerconf/interfaces"
	"github.com/trustnet/centerconf/metrics"
)

// Client talks to the signer gateway over its HTTP API. The gateway is an
// independently operated token/HSM service: every call has a bounded timeout
// and maps transport failures to interfaces.ErrGatewayUnavailable so callers
// can distinguish "gateway down" from "gateway said no".
type Client struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewClient creates a gateway client for baseURL with the given per-call
// timeout.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

type tokenKeyResponse struct {
	ID        string `json:"id"`
	Usage     string `json:"usage"`
	Available bool   `json:"available"`
}

type tokenResponse struct {
	ID        string             `json:"id"`
	Label     string             `json:"label"`
	Active    bool               `json:"active"`
	Available bool               `json:"available"`
	Keys      []tokenKeyResponse `json:"keys"`
}

type generateKeyResponse struct {
	KeyID string `json:"key_id"`
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListTokens enumerates the gateway's tokens and their keys.
func (c *Client) ListTokens(ctx context.Context) ([]interfaces.Token, error) {
	var resp []tokenResponse
	if err := c.do(ctx, http.MethodGet, "/v1/tokens", nil, &resp); err != nil {
		return nil, err
	}

	tokens := make([]interfaces.Token, 0, len(resp))
	for _, t := range resp {
		token := interfaces.Token{
			ID:        t.ID,
			Label:     t.Label,
			Active:    t.Active,
			Available: t.Available,
		}
		if token.Label == "" {
			token.Label = t.ID
		}
		for _, k := range t.Keys {
			token.Keys = append(token.Keys, interfaces.TokenKey{ID: k.ID, Usage: k.Usage, Available: k.Available})
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// GenerateKey asks the gateway to generate a signing key on the given token.
func (c *Client) GenerateKey(ctx context.Context, tokenID string) (string, error) {
	var resp generateKeyResponse
	path := fmt.Sprintf("/v1/tokens/%s/keys", url.PathEscape(tokenID))
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	if resp.KeyID == "" {
		return "", fmt.Errorf("%w: gateway returned empty key id", interfaces.ErrGatewayUnavailable)
	}
	return resp.KeyID, nil
}

// DeleteKey asks the gateway to destroy the physical key.
func (c *Client) DeleteKey(ctx context.Context, keyID string, force bool) error {
	path := fmt.Sprintf("/v1/keys/%s?force=%t", url.PathEscape(keyID), force)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// InitializeToken logs the token in with the given PIN.
func (c *Client) InitializeToken(ctx context.Context, tokenID string, pin []byte) error {
	path := fmt.Sprintf("/v1/tokens/%s/login", url.PathEscape(tokenID))
	body := map[string]string{"pin": string(pin)}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// LogoutToken logs the token out.
func (c *Client) LogoutToken(ctx context.Context, tokenID string) error {
	path := fmt.Sprintf("/v1/tokens/%s/logout", url.PathEscape(tokenID))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.SignerGatewayErrors.Inc()
		return fmt.Errorf("%w: %v", interfaces.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.SignerGatewayErrors.Inc()
		return c.asError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			metrics.SignerGatewayErrors.Inc()
			return fmt.Errorf("%w: malformed gateway response: %v", interfaces.ErrGatewayUnavailable, err)
		}
	}
	return nil
}

func (c *Client) asError(resp *http.Response) error {
	var gwErr gatewayError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &gwErr); err != nil || gwErr.Message == "" {
		gwErr.Message = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound, gwErr.Code == "token_not_found":
		return fmt.Errorf("%w: %s", interfaces.ErrTokenUnavailable, gwErr.Message)
	case resp.StatusCode == http.StatusConflict, gwErr.Code == "token_locked":
		return fmt.Errorf("%w: %s", interfaces.ErrTokenUnavailable, gwErr.Message)
	default:
		return fmt.Errorf("%w: gateway returned %d: %s", interfaces.ErrGatewayUnavailable, resp.StatusCode, gwErr.Message)
	}
}
