package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"

	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeGateway is the production Gateway. It assumes cards are stored
// as the customer's default payment method via setup-mode checkout.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	logger        *log.Logger
}

func NewStripeGateway(secretKey, webhookSecret string, logger *log.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret, logger: logger}, nil
}

func (g *StripeGateway) CreateCustomer(_ context.Context, email string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) DeleteCustomer(_ context.Context, customerRef string) error {
	// Detach cards first so no orphaned payment methods linger.
	iter := g.api.PaymentMethods.List(&stripe.PaymentMethodListParams{
		Customer: stripe.String(customerRef),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	})
	for iter.Next() {
		pm := iter.PaymentMethod()
		if _, err := g.api.PaymentMethods.Detach(pm.ID, nil); err != nil {
			g.logger.Printf("[billing] detach payment method %s: %v", pm.ID, err)
		}
	}
	if err := iter.Err(); err != nil {
		g.logger.Printf("[billing] list payment methods for %s: %v", customerRef, err)
	}

	if _, err := g.api.Customers.Del(customerRef, nil); err != nil {
		return fmt.Errorf("delete stripe customer: %w", err)
	}
	return nil
}

func (g *StripeGateway) listCards(customerRef string) ([]*stripe.PaymentMethod, error) {
	iter := g.api.PaymentMethods.List(&stripe.PaymentMethodListParams{
		Customer: stripe.String(customerRef),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	})
	var out []*stripe.PaymentMethod
	for iter.Next() {
		out = append(out, iter.PaymentMethod())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return out, nil
}

// defaultCard prefers the invoice-settings default and falls back to the
// first stored card.
func (g *StripeGateway) defaultCard(customerRef string) (*stripe.PaymentMethod, error) {
	cards, err := g.listCards(customerRef)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, nil
	}

	c, err := g.api.Customers.Get(customerRef, nil)
	if err != nil {
		return nil, fmt.Errorf("get stripe customer: %w", err)
	}
	if c.InvoiceSettings != nil && c.InvoiceSettings.DefaultPaymentMethod != nil {
		want := c.InvoiceSettings.DefaultPaymentMethod.ID
		for _, pm := range cards {
			if pm.ID == want {
				return pm, nil
			}
		}
	}
	return cards[0], nil
}

func (g *StripeGateway) HasDefaultPaymentMethod(_ context.Context, customerRef string) (bool, error) {
	if customerRef == "" {
		return false, nil
	}
	pm, err := g.defaultCard(customerRef)
	if err != nil {
		return false, err
	}
	return pm != nil, nil
}

func (g *StripeGateway) DefaultCard(_ context.Context, customerRef string) (Card, bool, error) {
	if customerRef == "" {
		return Card{}, false, nil
	}
	pm, err := g.defaultCard(customerRef)
	if err != nil {
		return Card{}, false, err
	}
	if pm == nil || pm.Card == nil {
		return Card{}, false, nil
	}
	return Card{Brand: string(pm.Card.Brand), Last4: pm.Card.Last4}, true, nil
}

func (g *StripeGateway) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	if req.CustomerRef == "" {
		return ChargeResult{}, ErrNoPaymentMethod
	}
	pm, err := g.defaultCard(req.CustomerRef)
	if err != nil {
		return ChargeResult{}, err
	}
	if pm == nil {
		return ChargeResult{}, ErrNoPaymentMethod
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(int64(math.Round(req.Amount * 100))),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(pm.ID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return ChargeResult{}, fmt.Errorf("%w: %s", ErrChargeDeclined, stripeErr.Msg)
		}
		return ChargeResult{}, fmt.Errorf("create payment intent: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		reason := string(pi.Status)
		if pi.LastPaymentError != nil {
			reason = pi.LastPaymentError.Msg
		}
		return ChargeResult{}, fmt.Errorf("%w: %s", ErrChargeDeclined, reason)
	}

	return ChargeResult{ProviderRef: pi.ID, Amount: req.Amount}, nil
}

func (g *StripeGateway) SetupIntent(_ context.Context, customerRef string) (SetupIntent, error) {
	si, err := g.api.SetupIntents.New(&stripe.SetupIntentParams{
		Customer:           stripe.String(customerRef),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Usage:              stripe.String("off_session"),
	})
	if err != nil {
		return SetupIntent{}, fmt.Errorf("create setup intent: %w", err)
	}
	return SetupIntent{ClientSecret: si.ClientSecret}, nil
}

func (g *StripeGateway) CheckoutURL(_ context.Context, customerRef, successURL, cancelURL string) (string, error) {
	s, err := g.api.CheckoutSessions.New(&stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSetup)),
		Customer:           stripe.String(customerRef),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(successURL),
		CancelURL:          stripe.String(cancelURL),
	})
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return s.URL, nil
}

func (g *StripeGateway) PortalURL(_ context.Context, customerRef, returnURL string) (string, error) {
	s, err := g.api.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerRef),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return s.URL, nil
}

// HandleWebhook finishes card setup: when a setup-mode checkout session
// completes, the collected payment method becomes the customer default.
func (g *StripeGateway) HandleWebhook(payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return fmt.Errorf("verify webhook signature: %w", err)
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		if sess.Mode != stripe.CheckoutSessionModeSetup || sess.SetupIntent == nil || sess.Customer == nil {
			return nil
		}
		si, err := g.api.SetupIntents.Get(sess.SetupIntent.ID, nil)
		if err != nil {
			return fmt.Errorf("get setup intent: %w", err)
		}
		if si.PaymentMethod == nil {
			return nil
		}
		if _, err := g.api.PaymentMethods.Attach(si.PaymentMethod.ID, &stripe.PaymentMethodAttachParams{
			Customer: stripe.String(sess.Customer.ID),
		}); err != nil {
			return fmt.Errorf("attach payment method: %w", err)
		}
		if _, err := g.api.Customers.Update(sess.Customer.ID, &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(si.PaymentMethod.ID),
			},
		}); err != nil {
			return fmt.Errorf("set default payment method: %w", err)
		}
		g.logger.Printf("[billing] payment method %s attached to customer %s", si.PaymentMethod.ID, sess.Customer.ID)
	default:
		g.logger.Printf("[billing] unhandled webhook event %s", event.Type)
	}
	return nil
}
