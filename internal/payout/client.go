// Package payout выводит средства кошелька на банковский счёт через внешнего
// платёжного провайдера.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var errUnauthorized = errors.New("payout provider: unauthorized")

// Client реализует HTTP-клиент платёжного провайдера. Токены доступа берутся из
// переданного TokenCache.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	tokens       *TokenCache
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NewClient создаёт клиент провайдера.
func NewClient(baseURL, clientID, clientSecret string, tokens *TokenCache) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:      base,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tokens: tokens,
	}
}

// Transfer выполняет перевод. При ответе 401 токен сбрасывается и запрос
// повторяется один раз.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Receipt, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("payout client not configured")
	}

	receipt, err := c.transfer(ctx, req)
	if errors.Is(err, errUnauthorized) {
		c.tokens.Invalidate(c.clientID)
		receipt, err = c.transfer(ctx, req)
	}
	return receipt, err
}

func (c *Client) transfer(ctx context.Context, req TransferRequest) (*Receipt, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized:
		return nil, errUnauthorized
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &receipt, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if t, ok := c.tokens.Get(c.clientID); ok {
		return t, nil
	}

	body, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	})
	if err != nil {
		return "", fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: unexpected status: %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token request: empty access token")
	}

	c.tokens.Put(c.clientID, tr.AccessToken, time.Duration(tr.ExpiresIn)*time.Second)
	return tr.AccessToken, nil
}
