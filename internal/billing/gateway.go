// Package billing wraps the payment processor behind a Gateway
// interface. The rest of the service never touches card data; it only
// holds an opaque customer reference.
package billing

import (
	"context"
	"errors"
)

var (
	ErrNoPaymentMethod = errors.New("no payment method on file")
	ErrChargeDeclined  = errors.New("charge declined")
)

type Card struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

type ChargeRequest struct {
	CustomerRef string
	// Amount is in whole currency units (dollars), not cents.
	Amount   float64
	Currency string
	// IdempotencyKey dedupes retries of the same lock cycle.
	IdempotencyKey string
	Metadata       map[string]string
}

type ChargeResult struct {
	ProviderRef string
	Amount      float64
}

type SetupIntent struct {
	ClientSecret string `json:"clientSecret"`
}

type Gateway interface {
	// CreateCustomer registers the user with the processor and returns
	// the customer reference to persist.
	CreateCustomer(ctx context.Context, email string, metadata map[string]string) (string, error)
	DeleteCustomer(ctx context.Context, customerRef string) error

	HasDefaultPaymentMethod(ctx context.Context, customerRef string) (bool, error)
	DefaultCard(ctx context.Context, customerRef string) (Card, bool, error)

	// Charge captures the amount against the customer's stored default
	// payment method. The precondition (a stored method exists) is
	// checked first; its absence is ErrNoPaymentMethod, not a charge
	// failure.
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)

	SetupIntent(ctx context.Context, customerRef string) (SetupIntent, error)
	CheckoutURL(ctx context.Context, customerRef, successURL, cancelURL string) (string, error)
	PortalURL(ctx context.Context, customerRef, returnURL string) (string, error)

	// HandleWebhook verifies and processes a processor callback.
	HandleWebhook(payload []byte, signature string) error
}
