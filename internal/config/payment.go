package config

import "time"

// PaymentConfig configures the payment gateway client.  An empty KeyID
// switches the server to the in-process sandbox gateway.  SignatureSecret
// verifies the checkout signature returned to the client; it defaults to
// KeySecret, which is what the gateway signs with.
type PaymentConfig struct {
	KeyID           string
	KeySecret       string
	SignatureSecret string
	BaseURL         string
	Timeout         time.Duration
}

// Sandbox reports whether no real gateway credentials are configured.
func (c PaymentConfig) Sandbox() bool { return c.KeyID == "" }

// LoadPaymentConfig reads the PAYMENT_* variables.
func LoadPaymentConfig() PaymentConfig {
	secret := getenv("PAYMENT_KEY_SECRET", "")
	return PaymentConfig{
		KeyID:           getenv("PAYMENT_KEY_ID", ""),
		KeySecret:       secret,
		SignatureSecret: getenv("PAYMENT_WEBHOOK_SECRET", secret),
		BaseURL:         getenv("PAYMENT_BASE_URL", "https://api.razorpay.com"),
		Timeout:         parseDur(getenv("PAYMENT_TIMEOUT", "10s")),
	}
}
