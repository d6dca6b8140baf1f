package session

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/Zrodkin/CharityPad123-sub001/backend"
	"github.com/Zrodkin/CharityPad123-sub001/internal/metrics"
)

// CheckAuthentication asks the backend whether this identity is still
// connected. Called on app foregrounding, independent of any poll loop.
// Transport failures leave the current state unchanged; they are never
// treated as deauthentication. Responses are cached briefly so rapid
// foregrounding does not hammer the backend.
func (m *Manager) CheckAuthentication(ctx context.Context) error {
	tenantID, err := m.resolver.EffectiveID(ctx)
	if err != nil {
		return errors.Wrap(err, "[Manager.CheckAuthentication] resolve identity")
	}

	if cached, found := m.statusCache.Get(tenantID); found {
		m.applyStatus(ctx, cached.(*backend.StatusResponse))
		return nil
	}

	resp, err := m.backend.Status(ctx, backend.ByTenant(tenantID))
	if err != nil {
		m.logger.Warn().Err(err).Msg("authentication check failed; state left unchanged")
		return errors.Wrap(err, "[Manager.CheckAuthentication] backend.Status")
	}

	// A needs_refresh response is actioned right here; caching it would
	// re-trigger the refresh on every check within the TTL.
	if !resp.NeedsRefresh {
		m.statusCache.Set(tenantID, resp, gocache.DefaultExpiration)
	}
	m.applyStatus(ctx, resp)
	return nil
}

// applyStatus reconciles a by-tenant status response with local state.
func (m *Manager) applyStatus(ctx context.Context, resp *backend.StatusResponse) {
	if resp.DeviceConflict {
		// Another device is active on this organization: switch to the
		// device-scoped identifier. The override persists until logout so
		// the identifier stays stable for the rest of the session.
		if err := m.resolver.SetConflictOverride(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("failed to persist device conflict override")
		} else {
			m.logger.Info().Msg("backend reported a device conflict; using device-scoped identifier")
		}
	}

	if !resp.Connected {
		// An explicit "not connected" from the backend, outside any
		// in-flight flow, means the server-side session is gone.
		m.mu.Lock()
		if m.tokens == nil || m.pending != nil {
			m.mu.Unlock()
			return
		}
		if err := m.clearTokensLocked(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("failed to clear tokens after backend disconnect")
		}
		m.tokens = nil
		m.state = StateNotAuthenticated
		m.mu.Unlock()

		m.logger.Info().Msg("backend reports not connected; clearing local session")
		m.emit(
			Event{Type: EventStateChanged, State: StateNotAuthenticated},
			Event{Type: EventSessionInvalidated, State: StateNotAuthenticated},
		)
		return
	}

	var needsRefresh bool

	m.mu.Lock()
	if m.tokens != nil {
		// Refresh merchant/location/expiry from the authoritative answer.
		updated := *m.tokens
		if resp.MerchantID != "" {
			updated.MerchantID = resp.MerchantID
		}
		if resp.LocationID != "" {
			updated.LocationID = resp.LocationID
		}
		if expiry, ok := resp.Expiry(); ok {
			updated.ExpiresAt = expiry
		}
		if updated != *m.tokens {
			if err := m.persistTokensLocked(ctx, &updated); err != nil {
				m.logger.Warn().Err(err).Msg("failed to persist updated token metadata")
			} else {
				m.tokens = &updated
			}
		}
		needsRefresh = resp.NeedsRefresh
	}
	m.mu.Unlock()

	if needsRefresh {
		if err := m.refreshNow(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("backend-signaled refresh failed")
		}
	}
}

// RefreshTokenIfNeeded proactively refreshes the access token when fewer
// than the refresh window (7 days by default) remain before expiry. A no-op
// when unauthenticated or when plenty of lifetime remains.
func (m *Manager) RefreshTokenIfNeeded(ctx context.Context) error {
	m.mu.Lock()
	tokens := m.tokens
	if tokens != nil {
		cp := *tokens
		tokens = &cp
	}
	m.mu.Unlock()

	if tokens == nil {
		return nil
	}
	if tokens.ExpiresAt.After(m.nowTime().Add(m.refreshWindow)) {
		return nil
	}

	return m.refreshNow(ctx)
}

// refreshNow performs one refresh attempt. Transport failure preserves the
// existing tokens (grace period); only an explicit invalid-grant response
// from the backend clears them.
func (m *Manager) refreshNow(ctx context.Context) error {
	m.mu.Lock()
	if m.tokens == nil {
		m.mu.Unlock()
		return nil
	}
	refreshToken := m.tokens.RefreshToken
	current := *m.tokens
	m.mu.Unlock()

	tenantID, err := m.resolver.EffectiveID(ctx)
	if err != nil {
		return errors.Wrap(err, "[Manager.refreshNow] resolve identity")
	}

	tok, err := m.backend.Refresh(ctx, tenantID, refreshToken)
	if err != nil {
		if backend.IsInvalidGrant(err) {
			metrics.TokenRefreshes.WithLabelValues("invalid_grant").Inc()
			m.logger.Warn().Msg("backend rejected refresh token; clearing session")

			m.mu.Lock()
			if clearErr := m.clearTokensLocked(ctx); clearErr != nil {
				m.logger.Warn().Err(clearErr).Msg("failed to clear rejected tokens")
			}
			m.tokens = nil
			m.state = StateNotAuthenticated
			m.mu.Unlock()

			m.emit(
				Event{Type: EventStateChanged, State: StateNotAuthenticated},
				Event{Type: EventSessionInvalidated, State: StateNotAuthenticated},
			)
			return errors.Wrap(err, "[Manager.refreshNow] refresh token invalid")
		}

		metrics.TokenRefreshes.WithLabelValues("transport_error").Inc()
		return errors.Wrap(err, "[Manager.refreshNow] backend.Refresh")
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		if jwtExpiry, ok := expiryFromJWT(tok.AccessToken); ok {
			expiry = jwtExpiry
		} else {
			// Refusing the new token keeps the expiry invariant; the old
			// set stays valid through its grace period.
			metrics.TokenRefreshes.WithLabelValues("missing_expiry").Inc()
			return errors.Wrap(ErrMissingExpiry, "[Manager.refreshNow]")
		}
	}

	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		MerchantID:   backend.TokenExtra(tok, backend.ExtraMerchantID),
		LocationID:   backend.TokenExtra(tok, backend.ExtraLocationID),
		ExpiresAt:    expiry,
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = current.RefreshToken
	}
	if ts.MerchantID == "" {
		ts.MerchantID = current.MerchantID
	}
	if ts.LocationID == "" {
		ts.LocationID = current.LocationID
	}

	m.mu.Lock()
	if err := m.persistTokensLocked(ctx, ts); err != nil {
		m.mu.Unlock()
		return errors.Wrap(err, "[Manager.refreshNow] persist refreshed tokens")
	}
	m.tokens = ts
	m.state = StateAuthenticated
	m.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	m.logger.Info().Time("expires_at", ts.ExpiresAt).Msg("access token refreshed")
	return nil
}
