// Package account exposes the profile endpoints: who am I, what card is
// on file, and full account deletion.
package account

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/maksblyz/reeve/internal/auth"
	"github.com/maksblyz/reeve/internal/billing"
)

// SessionPurger drops everything the session layer holds for a user.
type SessionPurger interface {
	Forget(ctx context.Context, userID string) error
}

type Handler struct {
	users   auth.Repo
	tokens  *auth.Service
	gateway billing.Gateway
	purger  SessionPurger
	logger  *log.Logger
}

type HandlerOptions struct {
	Users   auth.Repo
	Auth    *auth.Service
	Gateway billing.Gateway
	Purger  SessionPurger
	Logger  *log.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		users:   opts.Users,
		tokens:  opts.Auth,
		gateway: opts.Gateway,
		purger:  opts.Purger,
		logger:  logger,
	}
}

// displayName derives a friendly name from the email local part.
func displayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return email
	}
	return local
}

// Info returns the signed-in user's profile and card summary.
// GET /api/account
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	resp := map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"name":  displayName(user.Email),
	}
	if user.StripeCustomerID != "" {
		card, has, err := h.gateway.DefaultCard(r.Context(), user.StripeCustomerID)
		if err != nil {
			h.logger.Printf("[account] default card for %s: %v", user.ID, err)
		} else if has {
			resp["card"] = card
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete removes the account: session state, tokens, the user row, and
// the payment customer. Collaborator failures are logged and skipped so
// a dead payment provider cannot hold the account hostage.
// DELETE /api/account
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	ctx := r.Context()

	if h.purger != nil {
		if err := h.purger.Forget(ctx, user.ID); err != nil {
			h.logger.Printf("[account] purge session for %s: %v", user.ID, err)
		}
	}
	h.tokens.RevokeAllForUser(ctx, user.ID)
	if user.StripeCustomerID != "" {
		if err := h.gateway.DeleteCustomer(ctx, user.StripeCustomerID); err != nil {
			h.logger.Printf("[account] delete customer %s: %v", user.StripeCustomerID, err)
		}
	}
	if err := h.users.DeleteUser(ctx, user.ID); err != nil {
		h.logger.Printf("[account] delete user %s: %v", user.ID, err)
		writeErr(w, http.StatusInternalServerError, "could not delete account")
		return
	}

	h.logger.Printf("[account] deleted user %s", user.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
