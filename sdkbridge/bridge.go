// Package sdkbridge keeps the payment SDK's location-scoped authorization in
// lock-step with the session manager's token set, and couples reader
// connectivity to SDK authorization transitions. It is the only place reader
// connectivity and authorization are tied together.
package sdkbridge

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Zrodkin/CharityPad123-sub001/internal/metrics"
	"github.com/Zrodkin/CharityPad123-sub001/paymentsdk"
	"github.com/Zrodkin/CharityPad123-sub001/session"
)

// TokenSource is the slice of the session manager the bridge reads.
type TokenSource interface {
	Tokens() *session.TokenSet
	IsAuthenticated() bool
}

// ReaderConnector is the excluded reader-pairing component's surface.
type ReaderConnector interface {
	ConnectToReader(ctx context.Context) error
}

type Bridge struct {
	sdk    paymentsdk.SDK
	tokens TokenSource
	reader ReaderConnector
	logger zerolog.Logger

	mu              sync.Mutex
	readerConnected bool
}

type BridgeOption func(*Bridge)

func WithLogger(logger zerolog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = logger }
}

// WithReaderConnector wires the downstream reader component. Without one,
// authorization transitions only maintain the reader-connected flag.
func WithReaderConnector(reader ReaderConnector) BridgeOption {
	return func(b *Bridge) { b.reader = reader }
}

func New(sdk paymentsdk.SDK, tokens TokenSource, options ...BridgeOption) (*Bridge, error) {
	if sdk == nil {
		return nil, errors.New("[sdkbridge.New] sdk is required")
	}
	if tokens == nil {
		return nil, errors.New("[sdkbridge.New] token source is required")
	}

	b := &Bridge{
		sdk:    sdk,
		tokens: tokens,
		logger: zerolog.Nop(),
	}
	for _, opt := range options {
		opt(b)
	}

	sdk.OnAuthorizationChange(b.handleAuthorizationChange)
	return b, nil
}

// EnsureAuthorized brings the SDK to authorized-with-the-correct-location.
// Idempotent: already authorized for the token set's location is an immediate
// no-op. Authorized for a different location triggers deauthorize then
// authorize, strictly in sequence so the SDK never observes two in-flight
// authorization attempts.
func (b *Bridge) EnsureAuthorized(ctx context.Context) error {
	tokens := b.tokens.Tokens()
	if tokens == nil || tokens.AccessToken == "" {
		return ErrMissingAccessToken
	}
	if tokens.LocationID == "" {
		return ErrMissingLocationID
	}

	switch b.sdk.AuthorizationState() {
	case paymentsdk.Authorized:
		current := b.sdk.AuthorizedLocationID()
		if current == tokens.LocationID {
			return nil
		}

		b.logger.Warn().
			Str("sdk_location", current).
			Str("token_location", tokens.LocationID).
			Msg("sdk authorized for wrong location; reauthorizing")
		metrics.SDKReauthorizations.Inc()

		if err := b.Deauthorize(ctx); err != nil {
			return errors.Wrap(err, "[Bridge.EnsureAuthorized] deauthorize before reauthorize")
		}
		if err := b.sdk.Authorize(ctx, tokens.AccessToken, tokens.LocationID); err != nil {
			return errors.Wrap(err, "[Bridge.EnsureAuthorized] authorize after location change")
		}
		return nil

	case paymentsdk.Authorizing:
		return ErrAuthorizationInFlight

	default:
		if err := b.sdk.Authorize(ctx, tokens.AccessToken, tokens.LocationID); err != nil {
			return errors.Wrap(err, "[Bridge.EnsureAuthorized] authorize")
		}
		return nil
	}
}

// Deauthorize clears SDK authorization. The reader-connected flag is reset
// even when the SDK call fails: a reader cannot be trusted as connected once
// deauthorization was requested.
func (b *Bridge) Deauthorize(ctx context.Context) error {
	err := b.sdk.Deauthorize(ctx)

	b.mu.Lock()
	b.readerConnected = false
	b.mu.Unlock()

	if err != nil {
		b.logger.Error().Err(err).Msg("sdk deauthorize did not complete; reader flag reset anyway")
		return errors.Wrap(err, "[Bridge.Deauthorize] sdk.Deauthorize")
	}
	return nil
}

// Authorized reports whether the SDK is authorized for the current token
// set's location.
func (b *Bridge) Authorized() bool {
	tokens := b.tokens.Tokens()
	if tokens == nil || tokens.LocationID == "" {
		return false
	}
	return b.sdk.AuthorizationState() == paymentsdk.Authorized &&
		b.sdk.AuthorizedLocationID() == tokens.LocationID
}

// Available reports whether the SDK is reachable at all.
func (b *Bridge) Available() bool {
	return b.sdk.Available()
}

// SupportsOfflinePayments reports merchant-level offline eligibility.
func (b *Bridge) SupportsOfflinePayments() bool {
	return b.sdk.SupportsOfflinePayments()
}

// ProcessPayment submits a payment through the SDK.
func (b *Bridge) ProcessPayment(ctx context.Context, req paymentsdk.PaymentRequest) (*paymentsdk.PaymentResult, error) {
	return b.sdk.ProcessPayment(ctx, req)
}

// ReaderConnected reports whether a card reader is connected. Maintained
// solely from authorization transitions.
func (b *Bridge) ReaderConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readerConnected
}

func (b *Bridge) handleAuthorizationChange(state paymentsdk.AuthorizationState) {
	if state != paymentsdk.Authorized {
		b.mu.Lock()
		b.readerConnected = false
		b.mu.Unlock()
		return
	}

	if b.reader == nil {
		return
	}
	if err := b.reader.ConnectToReader(context.Background()); err != nil {
		b.logger.Warn().Err(err).Msg("reader connection failed after authorization")
		return
	}

	b.mu.Lock()
	b.readerConnected = true
	b.mu.Unlock()
}
