package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/iliyamo/consult-booking/pkg/logging"
)

// Client is a Razorpay-style REST gateway client authenticated with a key
// id and secret over HTTP basic auth.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a gateway client.  A zero timeout means 10s.
func NewClient(baseURL, keyID, keySecret string, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrDefault(logger),
	}
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a checkout order for amountCents in currency.
func (c *Client) CreateOrder(ctx context.Context, amountCents int64, currency, receipt string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "payment.create_order")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payment.amount_cents", amountCents),
		attribute.String("payment.currency", currency),
	)

	body := map[string]any{
		"amount":   amountCents,
		"currency": currency,
		"receipt":  receipt,
	}
	var order Order
	if err := c.do(ctx, "/v1/orders", body, &order); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("payment: create order: %w", err)
	}
	order.CreatedAt = time.Now().UTC()
	return &order, nil
}

// Refund refunds amountCents of paymentID.  A gateway answer saying the
// payment is already fully refunded yields ErrAlreadyRefunded.
func (c *Client) Refund(ctx context.Context, paymentID string, amountCents int64) (*Refund, error) {
	ctx, span := tracer.Start(ctx, "payment.refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.payment_id", paymentID),
		attribute.Int64("payment.amount_cents", amountCents),
	)

	var refund Refund
	err := c.do(ctx, "/v1/payments/"+paymentID+"/refund", map[string]any{"amount": amountCents}, &refund)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrAlreadyRefunded) {
			return nil, err
		}
		return nil, fmt.Errorf("payment: refund: %w", err)
	}
	c.logger.Info("refund processed", "refund_id", refund.ID, "payment_id", paymentID, "status", refund.Status)
	return &refund, nil
}

func (c *Client) do(ctx context.Context, path string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr apiError
		_ = json.Unmarshal(respBody, &apiErr)
		desc := strings.ToLower(apiErr.Error.Description)
		if strings.Contains(desc, "fully refunded") || strings.Contains(desc, "already been refunded") {
			return ErrAlreadyRefunded
		}
		c.logger.Error("payment gateway call failed", "path", path, "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, apiErr.Error.Description)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
