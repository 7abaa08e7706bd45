package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
)

// CustomerResolver maps an authenticated request to the user's payment
// customer reference, creating the customer on first use.
type CustomerResolver func(r *http.Request) (customerRef string, err error)

// ErrUnauthenticated is returned by resolvers when the request carries
// no valid credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

type Handler struct {
	gateway         Gateway
	logger          *log.Logger
	resolveCustomer CustomerResolver
	successURL      string
	cancelURL       string
	portalReturnURL string
}

type HandlerOptions struct {
	Gateway         Gateway
	Logger          *log.Logger
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		gateway:         opts.Gateway,
		logger:          logger,
		successURL:      opts.SuccessURL,
		cancelURL:       opts.CancelURL,
		portalReturnURL: opts.PortalReturnURL,
	}
}

// SetCustomerResolver installs the auth-to-customer bridge. Must be
// called before the handler serves authenticated routes.
func (h *Handler) SetCustomerResolver(fn CustomerResolver) { h.resolveCustomer = fn }

func (h *Handler) customer(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.resolveCustomer == nil {
		writeErr(w, http.StatusInternalServerError, "billing not configured")
		return "", false
	}
	ref, err := h.resolveCustomer(r)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			writeErr(w, http.StatusUnauthorized, "unauthenticated")
		} else {
			h.logger.Printf("[billing] resolve customer: %v", err)
			writeErr(w, http.StatusInternalServerError, "billing unavailable")
		}
		return "", false
	}
	return ref, true
}

// PaymentMethod reports whether a default card is on file.
// GET /api/billing/payment-method
func (h *Handler) PaymentMethod(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.customer(w, r)
	if !ok {
		return
	}
	card, has, err := h.gateway.DefaultCard(r.Context(), ref)
	if err != nil {
		h.logger.Printf("[billing] default card: %v", err)
		writeErr(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}
	resp := map[string]any{"hasPaymentMethod": has}
	if has {
		resp["card"] = card
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetupIntentNew creates a client secret for collecting a card in-page.
// POST /api/billing/setup-intent
func (h *Handler) SetupIntentNew(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.customer(w, r)
	if !ok {
		return
	}
	si, err := h.gateway.SetupIntent(r.Context(), ref)
	if err != nil {
		h.logger.Printf("[billing] setup intent: %v", err)
		writeErr(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"clientSecret": si.ClientSecret})
}

// Checkout starts a hosted setup-mode checkout session.
// POST /api/billing/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.customer(w, r)
	if !ok {
		return
	}
	url, err := h.gateway.CheckoutURL(r.Context(), ref, h.successURL, h.cancelURL)
	if err != nil {
		h.logger.Printf("[billing] checkout: %v", err)
		writeErr(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Portal hands the user to the hosted billing portal.
// POST /api/billing/portal
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.customer(w, r)
	if !ok {
		return
	}
	url, err := h.gateway.PortalURL(r.Context(), ref, h.portalReturnURL)
	if err != nil {
		h.logger.Printf("[billing] portal: %v", err)
		writeErr(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Webhook receives provider events. Unauthenticated; the signature
// header is the only trust anchor.
// POST /api/billing/webhook
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "unreadable payload")
		return
	}
	if err := h.gateway.HandleWebhook(payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.logger.Printf("[billing] webhook: %v", err)
		writeErr(w, http.StatusBadRequest, "webhook rejected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
