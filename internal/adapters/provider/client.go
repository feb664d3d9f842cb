package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/urbanserve/booking-payments/internal/domain/ports"
)

// Config contains configuration for the payment provider client.
type Config struct {
	// BaseURL of the provider API.
	BaseURL string

	// APIKey authenticates outbound requests.
	APIKey string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
}

// DefaultConfig returns sane client defaults for the given environment.
func DefaultConfig(baseURL, apiKey string) *Config {
	return &Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 10 * time.Second,
	}
}

// Client is the bare JSON-over-HTTP provider client. Business code never
// uses it directly; it is always wrapped by ResilientGateway.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a provider client with a tuned transport.
func NewClient(config *Config, logger *zap.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		logger: logger,
	}
}

type authorizePayload struct {
	AmountCents      int64  `json:"amount_cents"`
	PaymentMethodRef string `json:"payment_method_ref"`
}

type capturePayload struct {
	AmountCents int64 `json:"amount_cents"`
}

type handleResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Authorize places a hold for the amount against the stored payment method.
func (c *Client) Authorize(ctx context.Context, req *ports.AuthorizeRequest) (*ports.AuthorizeResponse, error) {
	c.logger.Info("Authorizing payment",
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("idempotency_key", req.IdempotencyKey),
	)

	var resp handleResponse
	err := c.post(ctx, "/v1/authorizations", req.IdempotencyKey, authorizePayload{
		AmountCents:      req.AmountCents,
		PaymentMethodRef: req.PaymentMethodRef,
	}, &resp)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Authorization created", zap.String("authorization_id", resp.ID))
	return &ports.AuthorizeResponse{AuthorizationID: resp.ID}, nil
}

// Capture transfers previously-authorized funds.
func (c *Client) Capture(ctx context.Context, authorizationID string, amountCents int64) (*ports.CaptureResponse, error) {
	c.logger.Info("Capturing authorization",
		zap.String("authorization_id", authorizationID),
		zap.Int64("amount_cents", amountCents),
	)

	var resp handleResponse
	path := fmt.Sprintf("/v1/authorizations/%s/captures", authorizationID)
	if err := c.post(ctx, path, "", capturePayload{AmountCents: amountCents}, &resp); err != nil {
		return nil, err
	}

	return &ports.CaptureResponse{ChargeID: resp.ID}, nil
}

// Void cancels an authorization, releasing the hold.
func (c *Client) Void(ctx context.Context, authorizationID string) error {
	c.logger.Info("Voiding authorization", zap.String("authorization_id", authorizationID))

	path := fmt.Sprintf("/v1/authorizations/%s/void", authorizationID)
	return c.post(ctx, path, "", struct{}{}, nil)
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("Provider request failed",
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return toDomainError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp errorResponse
		_ = json.Unmarshal(respBody, &errResp)

		perr := &providerError{
			StatusCode: httpResp.StatusCode,
			Code:       errResp.Error.Code,
			Message:    errResp.Error.Message,
		}
		c.logger.Warn("Provider returned error",
			zap.String("path", path),
			zap.Int("status_code", httpResp.StatusCode),
			zap.String("error_code", perr.Code),
			zap.Duration("elapsed", time.Since(start)),
		)
		return toDomainError(perr)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
