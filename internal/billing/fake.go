package billing

import (
	"context"
	"fmt"
	"sync"
)

// FakeGateway keeps everything in memory. Used in tests and when the
// server runs with billing mode "fake".
type FakeGateway struct {
	mu        sync.Mutex
	nextID    int
	customers map[string]string // ref -> email
	cards     map[string]Card   // ref -> default card
	charges   []ChargeRequest
	byKey     map[string]ChargeResult

	// FailCharges makes every Charge return ErrChargeDeclined.
	FailCharges bool
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		customers: make(map[string]string),
		cards:     make(map[string]Card),
		byKey:     make(map[string]ChargeResult),
	}
}

// AttachCard gives a customer a default card without going through
// checkout.
func (g *FakeGateway) AttachCard(customerRef string, card Card) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cards[customerRef] = card
}

// Charges returns a copy of every charge accepted so far.
func (g *FakeGateway) Charges() []ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ChargeRequest, len(g.charges))
	copy(out, g.charges)
	return out
}

func (g *FakeGateway) CreateCustomer(_ context.Context, email string, _ map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	ref := fmt.Sprintf("cus_fake_%d", g.nextID)
	g.customers[ref] = email
	return ref, nil
}

func (g *FakeGateway) DeleteCustomer(_ context.Context, customerRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.customers, customerRef)
	delete(g.cards, customerRef)
	return nil
}

func (g *FakeGateway) HasDefaultPaymentMethod(_ context.Context, customerRef string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.cards[customerRef]
	return ok, nil
}

func (g *FakeGateway) DefaultCard(_ context.Context, customerRef string) (Card, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	card, ok := g.cards[customerRef]
	return card, ok, nil
}

func (g *FakeGateway) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.cards[req.CustomerRef]; !ok {
		return ChargeResult{}, ErrNoPaymentMethod
	}
	if g.FailCharges {
		return ChargeResult{}, fmt.Errorf("%w: fake decline", ErrChargeDeclined)
	}
	if req.IdempotencyKey != "" {
		if res, ok := g.byKey[req.IdempotencyKey]; ok {
			return res, nil
		}
	}

	g.nextID++
	res := ChargeResult{
		ProviderRef: fmt.Sprintf("pi_fake_%d", g.nextID),
		Amount:      req.Amount,
	}
	g.charges = append(g.charges, req)
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = res
	}
	return res, nil
}

func (g *FakeGateway) SetupIntent(_ context.Context, customerRef string) (SetupIntent, error) {
	return SetupIntent{ClientSecret: "seti_fake_secret_" + customerRef}, nil
}

func (g *FakeGateway) CheckoutURL(_ context.Context, customerRef, successURL, _ string) (string, error) {
	// Local mode short-circuits checkout: the card appears immediately.
	g.AttachCard(customerRef, Card{Brand: "visa", Last4: "4242"})
	return successURL, nil
}

func (g *FakeGateway) PortalURL(_ context.Context, _, returnURL string) (string, error) {
	return returnURL, nil
}

func (g *FakeGateway) HandleWebhook(_ []byte, _ string) error {
	return nil
}
