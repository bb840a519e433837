// Package pricing предоставляет клиент внешнего сервиса оценки стоимости перевозки.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxAttempts = 3

// Client инкапсулирует HTTP-взаимодействие с сервисом оценки стоимости.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Route описывает маршрут, для которого запрашивается оценка.
type Route struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	WeightKg    float64 `json:"weightKg,omitempty"`
}

// Estimate описывает ответ сервиса оценки.
type Estimate struct {
	EstimatedCost decimal.Decimal `json:"estimatedCost"`
	Currency      string          `json:"currency,omitempty"`
}

// NewClient создаёт HTTP-клиент для обращения к сервису оценки по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetEstimate запрашивает оценку стоимости маршрута. Для ответа 429 возвращает
// код и значение заголовка Retry-After без ошибки.
func (c *Client) GetEstimate(ctx context.Context, route Route) (*Estimate, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("pricing client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(route)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/estimates", bytes.NewReader(body))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Estimate
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return &result, resp.StatusCode, 0, nil
}

// Estimate возвращает оценку стоимости маршрута, повторяя запрос после
// паузы Retry-After, пока сервис отвечает 429.
func (c *Client) Estimate(ctx context.Context, route Route) (decimal.Decimal, error) {
	for attempt := 1; ; attempt++ {
		res, code, retryAfter, err := c.GetEstimate(ctx, route)
		if err != nil {
			return decimal.Zero, err
		}

		if code != http.StatusTooManyRequests {
			if !res.EstimatedCost.IsPositive() {
				return decimal.Zero, fmt.Errorf("pricing: non-positive estimate %s", res.EstimatedCost)
			}
			return res.EstimatedCost.Round(2), nil
		}

		if attempt == maxAttempts {
			return decimal.Zero, fmt.Errorf("pricing: rate limited after %d attempts", attempt)
		}

		if retryAfter > 0 {
			timer := time.NewTimer(retryAfter)
			select {
			case <-ctx.Done():
				timer.Stop()
				return decimal.Zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
}
