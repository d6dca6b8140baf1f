package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zrodkin/CharityPad123-sub001/payment"
	"github.com/Zrodkin/CharityPad123-sub001/server"
	"github.com/Zrodkin/CharityPad123-sub001/session"
)

type fakeSessions struct {
	state         session.State
	authenticated bool
	tokens        *session.TokenSet
	lastErr       error

	startURL      string
	startErr      error
	callbackErr   error
	callbackSeen  url.Values
	checkErr      error
	checkCalls    int
	logoutErr     error
	logoutCalls   int
}

func (f *fakeSessions) State() session.State       { return f.state }
func (f *fakeSessions) IsAuthenticated() bool      { return f.authenticated }
func (f *fakeSessions) Tokens() *session.TokenSet  { return f.tokens }
func (f *fakeSessions) LastError() error           { return f.lastErr }

func (f *fakeSessions) StartOAuthFlow(context.Context) (string, error) {
	return f.startURL, f.startErr
}

func (f *fakeSessions) HandleCallback(_ context.Context, params url.Values) error {
	f.callbackSeen = params
	return f.callbackErr
}

func (f *fakeSessions) CheckAuthentication(context.Context) error {
	f.checkCalls++
	return f.checkErr
}

func (f *fakeSessions) Logout(context.Context) error {
	f.logoutCalls++
	return f.logoutErr
}

type fakePayments struct {
	outcome *payment.Outcome
	err     error
	seen    *payment.Request
}

func (f *fakePayments) ProcessPayment(_ context.Context, req payment.Request) (*payment.Outcome, error) {
	f.seen = &req
	return f.outcome, f.err
}

type fakeReader struct {
	available  bool
	authorized bool
}

func (f *fakeReader) Available() bool  { return f.available }
func (f *fakeReader) Authorized() bool { return f.authorized }

type serverFixture struct {
	sessions *fakeSessions
	payments *fakePayments
	reader   *fakeReader
	handler  http.Handler
}

func setupServer(t *testing.T) *serverFixture {
	t.Helper()

	f := &serverFixture{
		sessions: &fakeSessions{state: session.StateNotAuthenticated},
		payments: &fakePayments{},
		reader:   &fakeReader{available: true, authorized: true},
	}
	srv, err := server.New("127.0.0.1:0", f.sessions, f.payments, f.reader)
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *serverFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestNewValidation(t *testing.T) {
	_, err := server.New("127.0.0.1:0", nil, &fakePayments{}, &fakeReader{})
	require.Error(t, err)
	_, err = server.New("127.0.0.1:0", &fakeSessions{}, nil, &fakeReader{})
	require.Error(t, err)
	_, err = server.New("127.0.0.1:0", &fakeSessions{}, &fakePayments{}, nil)
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	f := setupServer(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupServer(t)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusWhileAuthenticated(t *testing.T) {
	f := setupServer(t)
	expiry := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	f.sessions.state = session.StateAuthenticated
	f.sessions.authenticated = true
	f.sessions.tokens = &session.TokenSet{
		AccessToken: "at",
		MerchantID:  "merch-1",
		LocationID:  "loc-1",
		ExpiresAt:   expiry,
	}

	rec := f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, string(session.StateAuthenticated), body["state"])
	require.Equal(t, true, body["authenticated"])
	require.Equal(t, "merch-1", body["merchant_id"])
	require.Equal(t, "loc-1", body["location_id"])
	require.Equal(t, "2025-07-01T00:00:00Z", body["token_expires_at"])
	require.Equal(t, true, body["reader_ready"])

	// Status revalidates against the backend on each request.
	require.Equal(t, 1, f.sessions.checkCalls)
}

func TestStatusSurvivesRevalidationFailure(t *testing.T) {
	f := setupServer(t)
	f.sessions.checkErr = context.DeadlineExceeded
	f.sessions.state = session.StateAuthenticated
	f.sessions.authenticated = true

	rec := f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["authenticated"])
}

func TestStatusReaderNotReady(t *testing.T) {
	f := setupServer(t)
	f.reader.authorized = false

	rec := f.do(t, http.MethodGet, "/status", "")
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["reader_ready"])
}

func TestOAuthStart(t *testing.T) {
	f := setupServer(t)
	f.sessions.startURL = "https://connect.example.com/oauth2/authorize?state=csrf-1"

	rec := f.do(t, http.MethodPost, "/oauth/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, f.sessions.startURL, body["authorize_url"])
}

func TestOAuthStartFailure(t *testing.T) {
	f := setupServer(t)
	f.sessions.startErr = context.DeadlineExceeded

	rec := f.do(t, http.MethodPost, "/oauth/start", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestOAuthCallback(t *testing.T) {
	f := setupServer(t)

	rec := f.do(t, http.MethodGet, "/oauth/callback?state=csrf-1&success=true&merchant_id=merch-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Authorization complete")

	require.Equal(t, "csrf-1", f.sessions.callbackSeen.Get("state"))
	require.Equal(t, "merch-1", f.sessions.callbackSeen.Get("merchant_id"))
}

func TestOAuthCallbackRejected(t *testing.T) {
	f := setupServer(t)
	f.sessions.callbackErr = session.ErrStateMismatch

	rec := f.do(t, http.MethodGet, "/oauth/callback?state=stale", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Authorization failed")
}

func TestProcessPayment(t *testing.T) {
	f := setupServer(t)
	f.payments.outcome = &payment.Outcome{
		Success:       true,
		Code:          payment.OutcomeFinished,
		PaymentID:     "pay-1",
		TransactionID: "order-ord-1-1800",
		KeyRetained:   true,
	}

	rec := f.do(t, http.MethodPost, "/payment", `{"amount_minor":1800,"order_id":"ord-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, int64(1800), f.payments.seen.AmountMinor)
	require.Equal(t, "ord-1", f.payments.seen.OrderID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "pay-1", body["payment_id"])
}

func TestProcessPaymentBadJSON(t *testing.T) {
	f := setupServer(t)
	rec := f.do(t, http.MethodPost, "/payment", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessPaymentErrorStatuses(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid amount", payment.ErrInvalidAmount, http.StatusBadRequest},
		{"already processing", payment.ErrAlreadyProcessing, http.StatusConflict},
		{"not authenticated", payment.ErrNotAuthenticated, http.StatusUnauthorized},
		{"sdk unavailable", payment.ErrSDKUnavailable, http.StatusServiceUnavailable},
		{"sdk not authorized", payment.ErrSDKNotAuthorized, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupServer(t)
			f.payments.err = tc.err

			rec := f.do(t, http.MethodPost, "/payment", `{"amount_minor":100}`)
			require.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestLogout(t *testing.T) {
	f := setupServer(t)
	rec := f.do(t, http.MethodPost, "/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.sessions.logoutCalls)
}
