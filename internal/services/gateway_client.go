package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/models"
	"github.com/taxi-dispatch/backend/internal/payment"
)

// GatewayClient talks to the gateway REST API on behalf of one terminal.
// It implements payment.Client and feed.Source.
type GatewayClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewGatewayClient(baseURL, token string, log *zap.Logger) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Body)
}

func (c *GatewayClient) GenerateQR(ctx context.Context, req payment.QRRequest) (*payment.QRResponse, error) {
	var resp payment.QRResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments/qr", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GatewayClient) GetStatus(ctx context.Context, paymentID string) (*payment.Status, error) {
	var resp payment.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+url.PathEscape(paymentID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GatewayClient) List(ctx context.Context) ([]models.Notification, error) {
	var resp struct {
		Items []models.Notification `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/notifications", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *GatewayClient) MarkAsRead(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/notifications/read", map[string][]string{"ids": ids}, nil)
}

func (c *GatewayClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Warn("gateway request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
