package session

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/Zrodkin/CharityPad123-sub001/backend"
	"github.com/Zrodkin/CharityPad123-sub001/internal/metrics"
)

// StartOAuthFlow requests a fresh authorization URL from the backend and
// begins polling for completion. Any previous in-flight attempt is
// superseded: its stored state is overwritten and its poll loop stops
// silently on the next tick. Returns the URL to open in the external browser.
func (m *Manager) StartOAuthFlow(ctx context.Context) (string, error) {
	tenantID, err := m.resolver.EffectiveID(ctx)
	if err != nil {
		return "", errors.Wrap(err, "[Manager.StartOAuthFlow] resolve identity")
	}

	m.setState(StateAuthorizationRequested, nil)

	resp, err := m.backend.Authorize(ctx, tenantID)
	if err != nil {
		m.setState(StateFailed, err)
		metrics.OAuthFlowOutcomes.WithLabelValues("authorize_failed").Inc()
		return "", errors.Wrap(err, "[Manager.StartOAuthFlow] backend.Authorize")
	}

	// Polling without a CSRF state is invalid, never attempted.
	if resp.State == "" {
		m.setState(StateFailed, ErrMissingCSRFState)
		metrics.OAuthFlowOutcomes.WithLabelValues("missing_state").Inc()
		return "", ErrMissingCSRFState
	}

	pending := &PendingAuthorization{
		State:     resp.State,
		CreatedAt: m.nowTime(),
	}

	m.mu.Lock()
	if m.pollCancel != nil {
		m.pollCancel()
	}
	if err := m.persistPendingLocked(ctx, pending); err != nil {
		m.state = StateFailed
		m.lastErr = err
		m.mu.Unlock()
		m.emit(Event{Type: EventStateChanged, State: StateFailed, Err: err})
		return "", errors.Wrap(err, "[Manager.StartOAuthFlow] persist pending authorization")
	}
	m.pending = pending
	m.lastErr = nil
	m.state = StatePolling

	pollCtx, cancel := context.WithTimeout(context.Background(), m.pollTimeout)
	m.pollCancel = cancel
	m.mu.Unlock()

	m.emit(Event{Type: EventStateChanged, State: StatePolling})

	go m.runPollLoop(pollCtx, resp.State)

	return resp.AuthorizeURL, nil
}

// HandleCallback processes the external browser's redirect parameters. A
// successful callback short-circuits the next poll tick by confirming with
// the backend immediately; the callback alone never establishes a session
// because it carries no tokens.
func (m *Manager) HandleCallback(ctx context.Context, params url.Values) error {
	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()

	if pending == nil {
		return ErrNoPendingAuthorization
	}
	if state := params.Get("state"); state != "" && state != pending.State {
		// Callback from a superseded flow; ignore it.
		return ErrStateMismatch
	}

	if errParam := params.Get("error"); errParam != "" || params.Get("success") == "false" {
		cbErr := errors.Errorf("authorization callback reported error %q", errParam)
		m.failFlow(ctx, pending.State, cbErr)
		return nil
	}

	if merchantID := params.Get("merchant_id"); merchantID != "" {
		m.mu.Lock()
		if m.pending != nil && m.pending.State == pending.State {
			m.pending.MerchantID = merchantID
			if err := m.persistPendingLocked(ctx, m.pending); err != nil {
				m.logger.Warn().Err(err).Msg("failed to persist callback merchant id")
			}
		}
		m.mu.Unlock()
	}

	m.pollOnce(ctx, pending.State)
	return nil
}

func (m *Manager) runPollLoop(ctx context.Context, csrfState string) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				m.timeoutFlow(csrfState)
			}
			// context.Canceled means the flow completed, failed, was
			// superseded or logged out; nothing left to do here.
			return
		case <-ticker.C:
			if done := m.pollOnce(ctx, csrfState); done {
				return
			}
		}
	}
}

// pollOnce performs one status poll for csrfState. Returns true when this
// loop is finished, either because the flow reached a terminal state or
// because a newer flow superseded it.
func (m *Manager) pollOnce(ctx context.Context, csrfState string) bool {
	if m.isSuperseded(csrfState) {
		return true
	}

	metrics.OAuthPollTicks.Inc()

	resp, err := m.backend.Status(ctx, backend.ByState(csrfState))
	if err != nil {
		if apiErr, ok := backend.AsAPIError(err); ok && apiErr.Code == backend.ErrCodeInvalidState {
			return m.failFlow(ctx, csrfState, err)
		}
		// Transport failures never mutate authentication state.
		m.logger.Warn().Err(err).Msg("oauth status poll failed; will retry")
		return false
	}

	switch {
	case resp.Connected && resp.HasFullTokenSet():
		return m.completeFlow(csrfState, resp)
	case resp.Connected:
		// Connected without a full token set cannot establish a session;
		// in particular a missing location id is an error state, not a
		// merchant-id fallback.
		return m.failFlow(ctx, csrfState, errors.New("backend reported connected without a complete token set"))
	case resp.Message == backend.StatusInvalidState:
		return m.failFlow(ctx, csrfState, errors.New("backend reported invalid state"))
	case resp.Message == backend.StatusLocationSelectionRequired:
		// Multi-location merchant still disambiguating in the browser;
		// keep polling under the same overall timeout.
		m.logger.Debug().Msg("location selection still in progress")
		return false
	default:
		// authorization_in_progress, not found yet, or anything the
		// backend has not classified: keep polling.
		return false
	}
}

// isSuperseded re-validates that the stored pending state still matches the
// state this poll loop started with.
func (m *Manager) isSuperseded(csrfState string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending == nil || m.pending.State != csrfState
}

// completeFlow persists the issued token set and transitions to
// Authenticated. Durable writes use a background context so an aborted
// request context cannot leave the flow half-committed.
func (m *Manager) completeFlow(csrfState string, resp *backend.StatusResponse) bool {
	expiry, ok := resp.Expiry()
	if !ok {
		expiry, ok = expiryFromJWT(resp.AccessToken)
	}
	if !ok {
		// Never store an access token without an expiry.
		return m.failFlow(context.Background(), csrfState, ErrMissingExpiry)
	}

	ts := &TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		MerchantID:   resp.MerchantID,
		LocationID:   resp.LocationID,
		ExpiresAt:    expiry,
	}

	ctx := context.Background()

	m.mu.Lock()
	if m.pending == nil || m.pending.State != csrfState {
		// A newer flow won while this response was in flight.
		m.mu.Unlock()
		return true
	}
	if err := m.persistTokensLocked(ctx, ts); err != nil {
		// Failed is a terminal state: no attempt may stay pending behind it.
		if clearErr := m.clearPendingLocked(ctx); clearErr != nil {
			m.logger.Warn().Err(clearErr).Msg("failed to clear pending authorization after persist failure")
		}
		m.pending = nil
		m.lastErr = err
		m.state = StateFailed
		cancel := m.pollCancel
		m.pollCancel = nil
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		metrics.OAuthFlowOutcomes.WithLabelValues("failed").Inc()
		m.emit(Event{Type: EventStateChanged, State: StateFailed, Err: err})
		return true
	}
	if err := m.clearPendingLocked(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear pending authorization after completion")
	}
	m.tokens = ts
	m.pending = nil
	m.lastErr = nil
	m.state = StateAuthenticated
	cancel := m.pollCancel
	m.pollCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	metrics.OAuthFlowOutcomes.WithLabelValues("completed").Inc()
	m.logger.Info().Str("merchant_id", ts.MerchantID).Str("location_id", ts.LocationID).Msg("oauth flow completed")

	m.emit(
		Event{Type: EventStateChanged, State: StateAuthenticated},
		Event{Type: EventSessionEstablished, State: StateAuthenticated},
	)
	return true
}

// failFlow transitions to Failed and clears the pending authorization, but
// only while csrfState is still the active attempt.
func (m *Manager) failFlow(ctx context.Context, csrfState string, cause error) bool {
	m.mu.Lock()
	if m.pending == nil || m.pending.State != csrfState {
		m.mu.Unlock()
		return true
	}
	if err := m.clearPendingLocked(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear pending authorization after failure")
	}
	m.pending = nil
	m.lastErr = cause
	m.state = StateFailed
	cancel := m.pollCancel
	m.pollCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	metrics.OAuthFlowOutcomes.WithLabelValues("failed").Inc()
	m.logger.Warn().Err(cause).Msg("oauth flow failed")

	m.emit(Event{Type: EventStateChanged, State: StateFailed, Err: cause})
	return true
}

// timeoutFlow forces TimedOut when the bounded polling window elapses before
// Authenticated is reached.
func (m *Manager) timeoutFlow(csrfState string) {
	ctx := context.Background()

	m.mu.Lock()
	if m.pending == nil || m.pending.State != csrfState {
		m.mu.Unlock()
		return
	}
	if err := m.clearPendingLocked(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear pending authorization after timeout")
	}
	m.pending = nil
	m.lastErr = ErrAuthTimeout
	m.state = StateTimedOut
	m.pollCancel = nil
	m.mu.Unlock()

	metrics.OAuthFlowOutcomes.WithLabelValues("timed_out").Inc()
	m.logger.Warn().Msg("oauth flow timed out")

	m.emit(Event{Type: EventStateChanged, State: StateTimedOut, Err: ErrAuthTimeout})
}

// setState records a transition that carries no pending/token mutation.
func (m *Manager) setState(state State, cause error) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.lastErr = cause
	m.mu.Unlock()

	m.emit(Event{Type: EventStateChanged, State: state, Err: cause})
}
