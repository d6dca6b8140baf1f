// Package session owns the OAuth state machine for the kiosk: requesting
// authorization, polling the backend for completion, keeping tokens fresh and
// clearing everything on logout. It is the only writer of the credential
// store's token and pending-authorization keys.
package session

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/Zrodkin/CharityPad123-sub001/backend"
	"github.com/Zrodkin/CharityPad123-sub001/credstore"
	"github.com/Zrodkin/CharityPad123-sub001/identity"
)

// State is the session manager's position in the OAuth state machine.
// Failed and TimedOut are terminal but recoverable by restarting the flow.
type State string

const (
	StateNotAuthenticated       State = "not_authenticated"
	StateAuthorizationRequested State = "authorization_requested"
	StatePolling                State = "polling"
	StateAuthenticated          State = "authenticated"
	StateFailed                 State = "failed"
	StateTimedOut               State = "timed_out"
)

// TokenSet is the platform credential bundle owned by the Manager. Invariant:
// a TokenSet is never held or persisted with an access token but no expiry;
// absence of expiry means unauthenticated, never "authenticated with unknown
// expiry".
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	MerchantID   string
	LocationID   string
	ExpiresAt    time.Time
}

// PendingAuthorization is the single in-flight OAuth attempt. Starting a new
// flow overwrites it; the superseded flow's poll loop stops on its next tick
// when the stored state no longer matches.
type PendingAuthorization struct {
	State      string // opaque CSRF state from the backend
	MerchantID string // optionally learned from the browser callback
	CreatedAt  time.Time
}

// Backend is the subset of the backend client the Manager consumes.
type Backend interface {
	Authorize(ctx context.Context, tenantID string) (*backend.AuthorizeResponse, error)
	Status(ctx context.Context, query backend.StatusQuery) (*backend.StatusResponse, error)
	Refresh(ctx context.Context, tenantID, refreshToken string) (*oauth2.Token, error)
	Disconnect(ctx context.Context, tenantID string) error
}

// Credential store keys owned by this package.
const (
	keyAccessToken      = "oauth.access_token"
	keyRefreshToken     = "oauth.refresh_token"
	keyMerchantID       = "oauth.merchant_id"
	keyLocationID       = "oauth.location_id"
	keyExpiresAt        = "oauth.expires_at"
	keyPendingState     = "oauth.pending.state"
	keyPendingMerchant  = "oauth.pending.merchant_id"
	keyPendingCreatedAt = "oauth.pending.created_at"
)

const (
	defaultPollInterval   = 3 * time.Second
	defaultPollTimeout    = 5 * time.Minute
	defaultRefreshWindow  = 7 * 24 * time.Hour
	defaultStatusCacheTTL = 30 * time.Second
	disconnectTimeout     = 10 * time.Second
)

// Manager owns the OAuth state machine, the polling loop, token refresh and
// logout. All mutation of shared state happens under mu; events are emitted
// after the lock is released.
type Manager struct {
	store    credstore.Store
	resolver *identity.Resolver
	backend  Backend
	logger   zerolog.Logger

	pollInterval  time.Duration
	pollTimeout   time.Duration
	refreshWindow time.Duration
	nowTime       func() time.Time

	mu         sync.Mutex
	state      State
	tokens     *TokenSet
	pending    *PendingAuthorization
	lastErr    error
	pollCancel context.CancelFunc

	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int

	statusCache *gocache.Cache
}

type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) { m.nowTime = nowFunc }
}

func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.pollInterval = d }
}

func WithPollTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.pollTimeout = d }
}

func WithRefreshWindow(d time.Duration) ManagerOption {
	return func(m *Manager) { m.refreshWindow = d }
}

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

func WithStatusCacheTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.statusCache = gocache.New(ttl, 2*ttl) }
}

// NewManager initializes the session manager and restores persisted state
// from the credential store.
func NewManager(store credstore.Store, resolver *identity.Resolver, backendClient Backend, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	if resolver == nil {
		return nil, errors.New("[NewManager] resolver is required")
	}
	if backendClient == nil {
		return nil, errors.New("[NewManager] backend client is required")
	}

	m := &Manager{
		store:         store,
		resolver:      resolver,
		backend:       backendClient,
		logger:        zerolog.Nop(),
		pollInterval:  defaultPollInterval,
		pollTimeout:   defaultPollTimeout,
		refreshWindow: defaultRefreshWindow,
		nowTime:       time.Now,
		state:         StateNotAuthenticated,
		subscribers:   make(map[int]func(Event)),
		statusCache:   gocache.New(defaultStatusCacheTTL, 2*defaultStatusCacheTTL),
	}
	for _, opt := range options {
		opt(m)
	}

	if err := m.restore(context.Background()); err != nil {
		return nil, errors.Wrap(err, "[NewManager] restore")
	}
	return m, nil
}

// State returns the current state-machine position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsAuthenticated reports whether a token set is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens != nil
}

// Tokens returns a copy of the current token set, or nil.
func (m *Manager) Tokens() *TokenSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		return nil
	}
	cp := *m.tokens
	return &cp
}

// Pending returns a copy of the in-flight authorization, or nil.
func (m *Manager) Pending() *PendingAuthorization {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	cp := *m.pending
	return &cp
}

// LastError returns the most recent flow error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Logout synchronously clears all local auth data, then fires a best-effort
// server-side disconnect. Local state is the source of truth for "am I logged
// out": the disconnect call can neither block nor fail the clear.
func (m *Manager) Logout(ctx context.Context) error {
	// Capture the identifier before the override is cleared so the
	// disconnect targets the identity the server actually knows.
	tenantID, idErr := m.resolver.EffectiveID(ctx)

	m.mu.Lock()
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
	clearErr := m.clearTokensLocked(ctx)
	if err := m.clearPendingLocked(ctx); err != nil && clearErr == nil {
		clearErr = err
	}
	m.tokens = nil
	m.pending = nil
	m.lastErr = nil
	m.state = StateNotAuthenticated
	m.mu.Unlock()

	if err := m.resolver.ClearOverride(ctx); err != nil && clearErr == nil {
		clearErr = err
	}
	m.statusCache.Flush()

	m.emit(
		Event{Type: EventStateChanged, State: StateNotAuthenticated},
		Event{Type: EventSessionInvalidated, State: StateNotAuthenticated},
	)

	if idErr == nil && tenantID != "" {
		go func() {
			dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			if err := m.backend.Disconnect(dctx, tenantID); err != nil {
				m.logger.Warn().Err(err).Msg("server-side disconnect failed; local logout already complete")
			}
		}()
	}

	return errors.Wrap(clearErr, "[Manager.Logout] clear local auth data")
}

// restore loads persisted tokens and pending-auth state. A stored access
// token without a parseable expiry violates the TokenSet invariant and is
// discarded.
func (m *Manager) restore(ctx context.Context) error {
	access, err := m.getString(ctx, keyAccessToken)
	if err != nil {
		return err
	}

	if access != "" {
		refresh, err := m.getString(ctx, keyRefreshToken)
		if err != nil {
			return err
		}
		merchant, err := m.getString(ctx, keyMerchantID)
		if err != nil {
			return err
		}
		location, err := m.getString(ctx, keyLocationID)
		if err != nil {
			return err
		}
		rawExpiry, err := m.getString(ctx, keyExpiresAt)
		if err != nil {
			return err
		}

		expiry, parseErr := time.Parse(time.RFC3339, rawExpiry)
		if parseErr != nil {
			m.logger.Warn().Msg("stored token set has no usable expiry; discarding")
			if err := m.clearTokensLocked(ctx); err != nil {
				return err
			}
		} else {
			m.tokens = &TokenSet{
				AccessToken:  access,
				RefreshToken: refresh,
				MerchantID:   merchant,
				LocationID:   location,
				ExpiresAt:    expiry,
			}
			m.state = StateAuthenticated
		}
	}

	pendingState, err := m.getString(ctx, keyPendingState)
	if err != nil {
		return err
	}
	if pendingState == "" {
		return nil
	}

	rawCreated, err := m.getString(ctx, keyPendingCreatedAt)
	if err != nil {
		return err
	}
	createdAt, parseErr := time.Parse(time.RFC3339, rawCreated)
	if parseErr != nil || m.nowTime().Sub(createdAt) > m.pollTimeout {
		// A pending attempt from a previous process is past its window.
		return m.clearPendingLocked(ctx)
	}

	merchant, err := m.getString(ctx, keyPendingMerchant)
	if err != nil {
		return err
	}
	m.pending = &PendingAuthorization{
		State:      pendingState,
		MerchantID: merchant,
		CreatedAt:  createdAt,
	}
	return nil
}

func (m *Manager) getString(ctx context.Context, key string) (string, error) {
	value, err := m.store.Get(ctx, key)
	if errors.Is(err, credstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read %s", key)
	}
	return string(value), nil
}

func (m *Manager) persistTokensLocked(ctx context.Context, ts *TokenSet) error {
	entries := map[string]string{
		keyAccessToken:  ts.AccessToken,
		keyRefreshToken: ts.RefreshToken,
		keyMerchantID:   ts.MerchantID,
		keyLocationID:   ts.LocationID,
		keyExpiresAt:    ts.ExpiresAt.UTC().Format(time.RFC3339),
	}
	for key, value := range entries {
		if err := m.store.Set(ctx, key, []byte(value)); err != nil {
			return errors.Wrapf(err, "persist %s", key)
		}
	}
	return nil
}

func (m *Manager) clearTokensLocked(ctx context.Context) error {
	for _, key := range []string{keyAccessToken, keyRefreshToken, keyMerchantID, keyLocationID, keyExpiresAt} {
		if err := m.store.Delete(ctx, key); err != nil {
			return errors.Wrapf(err, "clear %s", key)
		}
	}
	return nil
}

func (m *Manager) persistPendingLocked(ctx context.Context, p *PendingAuthorization) error {
	entries := map[string]string{
		keyPendingState:     p.State,
		keyPendingMerchant:  p.MerchantID,
		keyPendingCreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
	for key, value := range entries {
		if err := m.store.Set(ctx, key, []byte(value)); err != nil {
			return errors.Wrapf(err, "persist %s", key)
		}
	}
	return nil
}

func (m *Manager) clearPendingLocked(ctx context.Context) error {
	for _, key := range []string{keyPendingState, keyPendingMerchant, keyPendingCreatedAt} {
		if err := m.store.Delete(ctx, key); err != nil {
			return errors.Wrapf(err, "clear %s", key)
		}
	}
	return nil
}
