package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zrodkin/CharityPad123-sub001/backend"
)

func TestAuthorize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/oauth/authorize", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "org-1", body["tenant_id"])

		json.NewEncoder(w).Encode(map[string]string{
			"authorize_url": "https://connect.example.com/oauth2/authorize?state=abc",
			"state":         "abc",
		})
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	resp, err := client.Authorize(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, "abc", resp.State)
	require.Contains(t, resp.AuthorizeURL, "state=abc")
}

func TestAuthorizeMissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"state": "abc"})
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Authorize(context.Background(), "org-1")
	require.Error(t, err)
}

func TestStatusByState(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/oauth/status", r.URL.Path)
		require.Equal(t, "abc", r.URL.Query().Get("state"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"connected":     true,
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"merchant_id":   "M1",
			"location_id":   "L1",
			"expires_at":    expiry.Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	resp, err := client.Status(context.Background(), backend.ByState("abc"))
	require.NoError(t, err)
	require.True(t, resp.Connected)
	require.True(t, resp.HasFullTokenSet())

	got, ok := resp.Expiry()
	require.True(t, ok)
	require.True(t, got.Equal(expiry))

	tok := resp.Token()
	require.Equal(t, "at-1", tok.AccessToken)
	require.Equal(t, "M1", backend.TokenExtra(tok, backend.ExtraMerchantID))
	require.Equal(t, "L1", backend.TokenExtra(tok, backend.ExtraLocationID))
}

func TestStatusQueryValidation(t *testing.T) {
	client, err := backend.NewClient("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = client.Status(context.Background(), backend.StatusQuery{})
	require.Error(t, err)

	_, err = client.Status(context.Background(), backend.StatusQuery{TenantID: "t", State: "s"})
	require.Error(t, err)
}

func TestStatusInProgressMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"connected": false,
			"message":   backend.StatusAuthorizationInProgress,
		})
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	resp, err := client.Status(context.Background(), backend.ByState("abc"))
	require.NoError(t, err)
	require.False(t, resp.Connected)
	require.Equal(t, backend.StatusAuthorizationInProgress, resp.Message)
	require.False(t, resp.HasFullTokenSet())
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/oauth/refresh", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "rt-old", body["refresh_token"])

		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "at-new",
			"refresh_token": "rt-new",
			"merchant_id":   "M1",
			"location_id":   "L1",
			"expires_at":    time.Now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	tok, err := client.Refresh(context.Background(), "org-1", "rt-old")
	require.NoError(t, err)
	require.Equal(t, "at-new", tok.AccessToken)
	require.Equal(t, "rt-new", tok.RefreshToken)
	require.False(t, tok.Expiry.IsZero())
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "invalid_grant",
			"message": "refresh token revoked",
		})
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Refresh(context.Background(), "org-1", "rt-dead")
	require.Error(t, err)

	apiErr, ok := backend.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, "invalid_grant", apiErr.Code)
	require.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatus)
	require.True(t, backend.IsInvalidGrant(err))
}

func TestTransportErrorIsNotAPIError(t *testing.T) {
	// Nothing listens here; the request must fail at the transport layer.
	client, err := backend.NewClient("http://127.0.0.1:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = client.Status(ctx, backend.ByTenant("org-1"))
	require.Error(t, err)

	_, ok := backend.AsAPIError(err)
	require.False(t, ok)
}

func TestDisconnect(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		require.Equal(t, "/api/oauth/disconnect", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	require.NoError(t, client.Disconnect(context.Background(), "org-1"))
	require.True(t, called)
}
