// Package payment builds and submits card payments with exactly-once
// semantics: a deterministic transaction id, an idempotency key persisted
// before submission, and an outcome taxonomy that decides whether the key
// survives for retries.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Zrodkin/CharityPad123-sub001/internal/metrics"
	"github.com/Zrodkin/CharityPad123-sub001/ledger"
	"github.com/Zrodkin/CharityPad123-sub001/paymentsdk"
)

// Precondition failures. Each is distinct and checked in order; no partial
// submission occurs when any is unmet.
var (
	ErrSDKUnavailable    = errors.New("payment sdk unreachable")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrSDKNotAuthorized  = errors.New("sdk not authorized; re-authorization triggered")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrAlreadyProcessing = errors.New("a payment is already processing")
	ErrLedgerWrite       = errors.New("could not persist idempotency key")
)

// Authorizer is the capability handle onto the SDK bridge. The processor
// holds this non-owning reference; the bridge knows nothing about the
// processor.
type Authorizer interface {
	Available() bool
	Authorized() bool
	EnsureAuthorized(ctx context.Context) error
	SupportsOfflinePayments() bool
	ProcessPayment(ctx context.Context, req paymentsdk.PaymentRequest) (*paymentsdk.PaymentResult, error)
}

// AuthChecker is the slice of the session manager the processor reads.
type AuthChecker interface {
	IsAuthenticated() bool
}

type Processor struct {
	bridge Authorizer
	keys   ledger.Ledger
	auth   AuthChecker
	logger zerolog.Logger

	nowTime func() time.Time
	newKey  func() string

	processing chan struct{} // size-1 semaphore; doubles as the isProcessing flag
}

type ProcessorOption func(*Processor)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ProcessorOption {
	return func(p *Processor) { p.nowTime = nowFunc }
}

// WithKeyGenerator overrides idempotency key minting (testing).
func WithKeyGenerator(fn func() string) ProcessorOption {
	return func(p *Processor) { p.newKey = fn }
}

func WithLogger(logger zerolog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

func NewProcessor(bridge Authorizer, keys ledger.Ledger, auth AuthChecker, options ...ProcessorOption) (*Processor, error) {
	if bridge == nil {
		return nil, errors.New("[NewProcessor] bridge is required")
	}
	if keys == nil {
		return nil, errors.New("[NewProcessor] ledger is required")
	}
	if auth == nil {
		return nil, errors.New("[NewProcessor] auth checker is required")
	}

	p := &Processor{
		bridge:     bridge,
		keys:       keys,
		auth:       auth,
		logger:     zerolog.Nop(),
		nowTime:    time.Now,
		newKey:     func() string { return uuid.New().String() },
		processing: make(chan struct{}, 1),
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// IsProcessing reports whether a payment is currently in flight. The UI is
// expected to disable the submit action while true.
func (p *Processor) IsProcessing() bool {
	return len(p.processing) > 0
}

// Request describes one payment attempt from the UI layer.
type Request struct {
	AmountMinor   int64
	AllowOffline  bool
	OrderID       string
	CatalogItemID string
}

// ProcessPayment runs one payment to a terminal outcome. Precondition
// failures return an error with no submission; terminal SDK outcomes are
// absorbed into the returned Outcome. The processing flag is cleared in
// every terminal branch before the caller observes the result.
func (p *Processor) ProcessPayment(ctx context.Context, req Request) (*Outcome, error) {
	if req.AmountMinor <= 0 {
		return nil, ErrInvalidAmount
	}

	select {
	case p.processing <- struct{}{}:
	default:
		return nil, ErrAlreadyProcessing
	}
	defer func() { <-p.processing }()

	// Preconditions, in order, each a distinct failure.
	if !p.bridge.Available() {
		return nil, ErrSDKUnavailable
	}
	if !p.auth.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	if !p.bridge.Authorized() {
		// Kick off re-authorization for the next attempt; this one fails
		// rather than blocking the kiosk behind an SDK handshake.
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := p.bridge.EnsureAuthorized(rctx); err != nil {
				p.logger.Warn().Err(err).Msg("background sdk re-authorization failed")
			}
		}()
		return nil, ErrSDKNotAuthorized
	}

	transactionID := p.transactionID(req)

	idempotencyKey, err := p.keys.Get(ctx, transactionID)
	switch {
	case err == nil:
		metrics.IdempotencyKeyReuse.Inc()
		p.logger.Info().Str("transaction_id", transactionID).Msg("reusing idempotency key from ledger")
	case errors.Is(err, ledger.ErrNotFound):
		idempotencyKey = p.newKey()
		// Persist before submit: a crash between key creation and SDK
		// submission must not mint a second key for a retried transaction.
		if putErr := p.keys.Put(ctx, transactionID, idempotencyKey); putErr != nil {
			return nil, errors.Wrap(ErrLedgerWrite, putErr.Error())
		}
	default:
		return nil, errors.Wrap(err, "[Processor.ProcessPayment] ledger.Get")
	}

	mode := paymentsdk.OnlineOnly
	if req.AllowOffline && p.bridge.SupportsOfflinePayments() {
		// Offline submission is rejected outright for merchants not opted
		// in, so auto-detect is never attempted speculatively.
		mode = paymentsdk.AutoDetectOffline
	}

	sdkReq := paymentsdk.PaymentRequest{
		AmountMinor:    req.AmountMinor,
		IdempotencyKey: idempotencyKey,
		Mode:           mode,
		OrderID:        req.OrderID,
		CatalogItemID:  req.CatalogItemID,
	}

	p.logger.Info().
		Str("transaction_id", transactionID).
		Int64("amount_minor", req.AmountMinor).
		Str("mode", string(mode)).
		Msg("submitting payment")

	result, err := p.bridge.ProcessPayment(ctx, sdkReq)
	outcome := p.classify(ctx, transactionID, mode, result, err)

	metrics.PaymentOutcomes.WithLabelValues(string(outcome.Code)).Inc()
	p.logger.Info().
		Str("transaction_id", transactionID).
		Str("outcome", string(outcome.Code)).
		Bool("key_retained", outcome.KeyRetained).
		Msg("payment finished")

	return outcome, nil
}

// transactionID derives a deterministic identifier for the logical
// transaction: order-based payments key on the order, ad-hoc payments on
// amount plus a minute-granularity timestamp.
func (p *Processor) transactionID(req Request) string {
	if req.OrderID != "" {
		return fmt.Sprintf("order-%s-%d", req.OrderID, req.AmountMinor)
	}
	return fmt.Sprintf("kiosk-%d-%d", req.AmountMinor, p.nowTime().Truncate(time.Minute).Unix())
}

// classify maps a terminal SDK result onto the outcome taxonomy and applies
// the key-retention decision. Key releases use a background context so an
// aborted request cannot leave a dead key in the ledger.
func (p *Processor) classify(ctx context.Context, transactionID string, mode paymentsdk.ProcessingMode, result *paymentsdk.PaymentResult, err error) *Outcome {
	outcome := &Outcome{TransactionID: transactionID}

	switch {
	case err == nil:
		outcome.Success = true
		outcome.Code = OutcomeFinished
		outcome.PaymentID = result.PaymentID
		outcome.KeyRetained = true
		if result.Offline {
			outcome.Code = OutcomeOfflineQueued
		}

	case errors.Is(err, paymentsdk.ErrCanceled):
		outcome.Code = OutcomeCanceled

	default:
		pe, ok := paymentsdk.AsPaymentError(err)
		if !ok {
			outcome.Code = OutcomeFailed
			break
		}
		switch pe.Reason {
		case paymentsdk.FailureDuplicateKey:
			outcome.Code = OutcomeDuplicate
			outcome.KeyRetained = true
		case paymentsdk.FailurePaymentInProgress:
			outcome.Code = OutcomeInProgress
			outcome.KeyRetained = true
		case paymentsdk.FailureNoNetwork:
			if mode == paymentsdk.AutoDetectOffline {
				// The offline queue will consume this key later.
				outcome.Code = OutcomeOfflineQueued
				outcome.KeyRetained = true
			} else {
				outcome.Code = OutcomeNoNetwork
			}
		default:
			outcome.Code = OutcomeFailed
		}
	}

	outcome.Message = messageFor(outcome.Code)

	if !outcome.KeyRetained {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if delErr := p.keys.Delete(releaseCtx, transactionID); delErr != nil {
			p.logger.Warn().Err(delErr).Str("transaction_id", transactionID).Msg("failed to release idempotency key")
		}
	}

	return outcome
}
