package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zrodkin/CharityPad123-sub001/payment"
	"github.com/Zrodkin/CharityPad123-sub001/session"
)

type handler struct {
	sessions SessionService
	payments PaymentService
	reader   ReaderStatus
	logger   zerolog.Logger
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, code, desc string, status int) {
	writeJSON(w, status, map[string]any{
		"error": code, "error_description": desc,
	})
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	State          session.State `json:"state"`
	Authenticated  bool          `json:"authenticated"`
	MerchantID     string        `json:"merchant_id,omitempty"`
	LocationID     string        `json:"location_id,omitempty"`
	TokenExpiresAt string        `json:"token_expires_at,omitempty"`
	ReaderReady    bool          `json:"reader_ready"`
	LastError      string        `json:"last_error,omitempty"`
}

// status revalidates against the backend (the result is cached inside the
// session manager) and reports the combined auth and reader picture.
func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.CheckAuthentication(r.Context()); err != nil {
		// Transport failures keep the last known state; still report it.
		h.logger.Warn().Err(err).Msg("status revalidation failed")
	}

	resp := statusResponse{
		State:         h.sessions.State(),
		Authenticated: h.sessions.IsAuthenticated(),
		ReaderReady:   h.reader.Available() && h.reader.Authorized(),
	}
	if tokens := h.sessions.Tokens(); tokens != nil {
		resp.MerchantID = tokens.MerchantID
		resp.LocationID = tokens.LocationID
		resp.TokenExpiresAt = tokens.ExpiresAt.Format(time.RFC3339)
	}
	if err := h.sessions.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) oauthStart(w http.ResponseWriter, r *http.Request) {
	authorizeURL, err := h.sessions.StartOAuthFlow(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("oauth start failed")
		writeErr(w, "authorization_failed", err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorize_url": authorizeURL})
}

// oauthCallback is the target of the browser redirect at the end of the
// merchant's authorization. It feeds the query parameters back into the
// flow and answers with a minimal page the embedded browser can show.
func (h *handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.HandleCallback(r.Context(), r.URL.Query())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		h.logger.Warn().Err(err).Msg("oauth callback rejected")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("<html><body><h1>Authorization failed</h1><p>Return to the kiosk and try again.</p></body></html>"))
		return
	}
	_, _ = w.Write([]byte("<html><body><h1>Authorization complete</h1><p>You can close this window.</p></body></html>"))
}

type paymentRequest struct {
	AmountMinor   int64  `json:"amount_minor"`
	AllowOffline  bool   `json:"allow_offline"`
	OrderID       string `json:"order_id,omitempty"`
	CatalogItemID string `json:"catalog_item_id,omitempty"`
}

func (h *handler) processPayment(w http.ResponseWriter, r *http.Request) {
	var in paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, "invalid_json", "Malformed body", http.StatusBadRequest)
		return
	}

	outcome, err := h.payments.ProcessPayment(r.Context(), payment.Request{
		AmountMinor:   in.AmountMinor,
		AllowOffline:  in.AllowOffline,
		OrderID:       in.OrderID,
		CatalogItemID: in.CatalogItemID,
	})
	if err != nil {
		writeErr(w, "payment_rejected", err.Error(), paymentErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// paymentErrorStatus maps precondition failures onto HTTP statuses. The
// outcome taxonomy never reaches here; it travels in the 200 body.
func paymentErrorStatus(err error) int {
	switch {
	case errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrAlreadyProcessing):
		return http.StatusConflict
	case errors.Is(err, payment.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, payment.ErrSDKUnavailable), errors.Is(err, payment.ErrSDKNotAuthorized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("logout failed")
		writeErr(w, "logout_failed", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
