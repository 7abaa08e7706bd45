package billing

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBillingHandlerForTest(t *testing.T, g *FakeGateway, customerRef string) *Handler {
	t.Helper()
	h := NewHandler(HandlerOptions{
		Gateway:         g,
		Logger:          log.New(io.Discard, "", 0),
		SuccessURL:      "https://app.example.com/done",
		CancelURL:       "https://app.example.com/cancel",
		PortalReturnURL: "https://app.example.com/account",
	})
	h.SetCustomerResolver(func(*http.Request) (string, error) {
		if customerRef == "" {
			return "", ErrUnauthenticated
		}
		return customerRef, nil
	})
	return h
}

func TestPaymentMethod_ReportsCardOnFile(t *testing.T) {
	g := NewFakeGateway()
	ref, err := g.CreateCustomer(t.Context(), "a@example.com", nil)
	require.NoError(t, err)
	h := newBillingHandlerForTest(t, g, ref)

	rr := httptest.NewRecorder()
	h.PaymentMethod(rr, httptest.NewRequest(http.MethodGet, "/api/billing/payment-method", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		HasPaymentMethod bool  `json:"hasPaymentMethod"`
		Card             *Card `json:"card"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.False(t, resp.HasPaymentMethod)
	assert.Nil(t, resp.Card)

	g.AttachCard(ref, Card{Brand: "visa", Last4: "4242"})
	rr = httptest.NewRecorder()
	h.PaymentMethod(rr, httptest.NewRequest(http.MethodGet, "/api/billing/payment-method", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, resp.HasPaymentMethod)
	require.NotNil(t, resp.Card)
	assert.Equal(t, "4242", resp.Card.Last4)
}

func TestPaymentMethod_Unauthenticated(t *testing.T) {
	h := newBillingHandlerForTest(t, NewFakeGateway(), "")

	rr := httptest.NewRecorder()
	h.PaymentMethod(rr, httptest.NewRequest(http.MethodGet, "/api/billing/payment-method", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCheckout_ReturnsHostedURL(t *testing.T) {
	g := NewFakeGateway()
	ref, err := g.CreateCustomer(t.Context(), "a@example.com", nil)
	require.NoError(t, err)
	h := newBillingHandlerForTest(t, g, ref)

	rr := httptest.NewRecorder()
	h.Checkout(rr, httptest.NewRequest(http.MethodPost, "/api/billing/checkout", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "https://app.example.com/done", resp["url"])
}

func TestPortal_ReturnsReturnURL(t *testing.T) {
	g := NewFakeGateway()
	ref, err := g.CreateCustomer(t.Context(), "a@example.com", nil)
	require.NoError(t, err)
	h := newBillingHandlerForTest(t, g, ref)

	rr := httptest.NewRecorder()
	h.Portal(rr, httptest.NewRequest(http.MethodPost, "/api/billing/portal", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "https://app.example.com/account", resp["url"])
}

func TestSetupIntent_ReturnsClientSecret(t *testing.T) {
	g := NewFakeGateway()
	ref, err := g.CreateCustomer(t.Context(), "a@example.com", nil)
	require.NoError(t, err)
	h := newBillingHandlerForTest(t, g, ref)

	rr := httptest.NewRecorder()
	h.SetupIntentNew(rr, httptest.NewRequest(http.MethodPost, "/api/billing/setup-intent", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.NotEmpty(t, resp["clientSecret"])
}
