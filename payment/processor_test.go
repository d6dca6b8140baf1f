package payment_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zrodkin/CharityPad123-sub001/ledger"
	"github.com/Zrodkin/CharityPad123-sub001/payment"
	"github.com/Zrodkin/CharityPad123-sub001/paymentsdk"
)

// fakeBridge implements payment.Authorizer with scripted results.
type fakeBridge struct {
	mu sync.Mutex

	available  bool
	authorized bool
	offline    bool

	ensureCalls int
	ensured     chan struct{}

	paymentResult *paymentsdk.PaymentResult
	paymentErr    error
	paymentCalls  []paymentsdk.PaymentRequest
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		available:  true,
		authorized: true,
		ensured:    make(chan struct{}, 4),
	}
}

func (f *fakeBridge) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeBridge) Authorized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorized
}

func (f *fakeBridge) EnsureAuthorized(context.Context) error {
	f.mu.Lock()
	f.ensureCalls++
	f.mu.Unlock()
	select {
	case f.ensured <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeBridge) SupportsOfflinePayments() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offline
}

func (f *fakeBridge) ProcessPayment(_ context.Context, req paymentsdk.PaymentRequest) (*paymentsdk.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentCalls = append(f.paymentCalls, req)
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	return f.paymentResult, nil
}

type staticAuth bool

func (a staticAuth) IsAuthenticated() bool { return bool(a) }

type processorFixture struct {
	bridge    *fakeBridge
	keys      *ledger.InMemoryLedger
	processor *payment.Processor
}

func setupProcessor(t *testing.T, options ...payment.ProcessorOption) *processorFixture {
	t.Helper()

	bridge := newFakeBridge()
	keys := ledger.NewInMemoryLedger()

	keyCounter := 0
	opts := append([]payment.ProcessorOption{
		payment.WithKeyGenerator(func() string {
			keyCounter++
			return fmt.Sprintf("key-%d", keyCounter)
		}),
	}, options...)

	proc, err := payment.NewProcessor(bridge, keys, staticAuth(true), opts...)
	require.NoError(t, err)

	return &processorFixture{bridge: bridge, keys: keys, processor: proc}
}

func TestPreconditionsCheckedInOrder(t *testing.T) {
	ctx := context.Background()

	f := setupProcessor(t)
	f.bridge.available = false
	f.bridge.authorized = false
	_, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 500})
	require.ErrorIs(t, err, payment.ErrSDKUnavailable)

	bridge := newFakeBridge()
	bridge.authorized = false
	proc, err := payment.NewProcessor(bridge, ledger.NewInMemoryLedger(), staticAuth(false))
	require.NoError(t, err)
	_, err = proc.ProcessPayment(ctx, payment.Request{AmountMinor: 500})
	require.ErrorIs(t, err, payment.ErrNotAuthenticated)

	require.Empty(t, bridge.paymentCalls)
}

func TestUnauthorizedTriggersReauthAndFails(t *testing.T) {
	f := setupProcessor(t)
	f.bridge.authorized = false

	_, err := f.processor.ProcessPayment(context.Background(), payment.Request{AmountMinor: 500})
	require.ErrorIs(t, err, payment.ErrSDKNotAuthorized)

	// Re-authorization was kicked off in the background.
	select {
	case <-f.bridge.ensured:
	case <-time.After(time.Second):
		t.Fatal("EnsureAuthorized never called")
	}
	require.Empty(t, f.bridge.paymentCalls)
}

func TestInvalidAmount(t *testing.T) {
	f := setupProcessor(t)
	_, err := f.processor.ProcessPayment(context.Background(), payment.Request{AmountMinor: 0})
	require.ErrorIs(t, err, payment.ErrInvalidAmount)
}

func TestFinishedRetainsKey(t *testing.T) {
	ctx := context.Background()
	f := setupProcessor(t)
	f.bridge.paymentResult = &paymentsdk.PaymentResult{PaymentID: "pay-1"}

	outcome, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 1800, OrderID: "ord-7"})
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, payment.OutcomeFinished, outcome.Code)
	require.Equal(t, "pay-1", outcome.PaymentID)
	require.True(t, outcome.KeyRetained)

	key, err := f.keys.Get(ctx, outcome.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "key-1", key)
}

func TestRetainedKeyIsReusedOnRetry(t *testing.T) {
	ctx := context.Background()
	f := setupProcessor(t)
	f.bridge.paymentErr = &paymentsdk.PaymentError{Reason: paymentsdk.FailurePaymentInProgress}

	first, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 1800, OrderID: "ord-7"})
	require.NoError(t, err)
	require.True(t, first.KeyRetained)

	second, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 1800, OrderID: "ord-7"})
	require.NoError(t, err)
	require.Equal(t, first.TransactionID, second.TransactionID)

	// Identical key on both submissions; no new key minted.
	require.Len(t, f.bridge.paymentCalls, 2)
	require.Equal(t, f.bridge.paymentCalls[0].IdempotencyKey, f.bridge.paymentCalls[1].IdempotencyKey)
	require.Equal(t, "key-1", f.bridge.paymentCalls[1].IdempotencyKey)
}

func TestReleasedKeyYieldsFreshKey(t *testing.T) {
	ctx := context.Background()
	f := setupProcessor(t)
	f.bridge.paymentErr = paymentsdk.ErrCanceled

	first, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 1800, OrderID: "ord-7"})
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeCanceled, first.Code)
	require.False(t, first.KeyRetained)

	_, err = f.keys.Get(ctx, first.TransactionID)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	second, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 1800, OrderID: "ord-7"})
	require.NoError(t, err)
	require.Equal(t, first.TransactionID, second.TransactionID)

	// The logically-new attempt received a different key.
	require.Equal(t, "key-1", f.bridge.paymentCalls[0].IdempotencyKey)
	require.Equal(t, "key-2", f.bridge.paymentCalls[1].IdempotencyKey)
}

func TestKeyRetentionTable(t *testing.T) {
	cases := []struct {
		name         string
		offline      bool
		allowOffline bool
		err          error
		wantCode     payment.OutcomeCode
		wantRetained bool
	}{
		{
			name:         "duplicate key",
			err:          &paymentsdk.PaymentError{Reason: paymentsdk.FailureDuplicateKey},
			wantCode:     payment.OutcomeDuplicate,
			wantRetained: true,
		},
		{
			name:         "payment in progress",
			err:          &paymentsdk.PaymentError{Reason: paymentsdk.FailurePaymentInProgress},
			wantCode:     payment.OutcomeInProgress,
			wantRetained: true,
		},
		{
			name:         "no network with offline support",
			offline:      true,
			allowOffline: true,
			err:          &paymentsdk.PaymentError{Reason: paymentsdk.FailureNoNetwork},
			wantCode:     payment.OutcomeOfflineQueued,
			wantRetained: true,
		},
		{
			name:         "no network without offline support",
			err:          &paymentsdk.PaymentError{Reason: paymentsdk.FailureNoNetwork},
			wantCode:     payment.OutcomeNoNetwork,
			wantRetained: false,
		},
		{
			name:         "invalid params",
			err:          &paymentsdk.PaymentError{Reason: paymentsdk.FailureInvalidParams},
			wantCode:     payment.OutcomeFailed,
			wantRetained: false,
		},
		{
			name:         "time skew",
			err:          &paymentsdk.PaymentError{Reason: paymentsdk.FailureTimeSkew},
			wantCode:     payment.OutcomeFailed,
			wantRetained: false,
		},
		{
			name:         "offline limit exceeded",
			err:          &paymentsdk.PaymentError{Reason: paymentsdk.FailureOfflineLimit},
			wantCode:     payment.OutcomeFailed,
			wantRetained: false,
		},
		{
			name:         "timeout",
			err:          &paymentsdk.PaymentError{Reason: paymentsdk.FailureTimeout},
			wantCode:     payment.OutcomeFailed,
			wantRetained: false,
		},
		{
			name:         "canceled by user",
			err:          paymentsdk.ErrCanceled,
			wantCode:     payment.OutcomeCanceled,
			wantRetained: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := setupProcessor(t)
			f.bridge.offline = tc.offline
			f.bridge.paymentErr = tc.err

			outcome, err := f.processor.ProcessPayment(ctx, payment.Request{
				AmountMinor:  2500,
				AllowOffline: tc.allowOffline,
				OrderID:      "ord-1",
			})
			require.NoError(t, err, "terminal SDK outcomes must not escape as errors")
			require.False(t, outcome.Success)
			require.Equal(t, tc.wantCode, outcome.Code)
			require.Equal(t, tc.wantRetained, outcome.KeyRetained)
			require.NotEmpty(t, outcome.Message)

			_, getErr := f.keys.Get(ctx, outcome.TransactionID)
			if tc.wantRetained {
				require.NoError(t, getErr)
			} else {
				require.ErrorIs(t, getErr, ledger.ErrNotFound)
			}
		})
	}
}

func TestOfflineModeGating(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name         string
		allowOffline bool
		merchantOK   bool
		wantMode     paymentsdk.ProcessingMode
	}{
		{"both allow", true, true, paymentsdk.AutoDetectOffline},
		{"caller only", true, false, paymentsdk.OnlineOnly},
		{"merchant only", false, true, paymentsdk.OnlineOnly},
		{"neither", false, false, paymentsdk.OnlineOnly},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupProcessor(t)
			f.bridge.offline = tc.merchantOK
			f.bridge.paymentResult = &paymentsdk.PaymentResult{PaymentID: "pay-1"}

			_, err := f.processor.ProcessPayment(ctx, payment.Request{
				AmountMinor:  1000,
				AllowOffline: tc.allowOffline,
			})
			require.NoError(t, err)
			require.Len(t, f.bridge.paymentCalls, 1)
			require.Equal(t, tc.wantMode, f.bridge.paymentCalls[0].Mode)
		})
	}
}

func TestOfflineStoredResult(t *testing.T) {
	ctx := context.Background()
	f := setupProcessor(t)
	f.bridge.offline = true
	f.bridge.paymentResult = &paymentsdk.PaymentResult{PaymentID: "pay-off", Offline: true}

	outcome, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 1000, AllowOffline: true})
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, payment.OutcomeOfflineQueued, outcome.Code)
	require.True(t, outcome.KeyRetained)
}

func TestTransactionIDDeterminism(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)

	f := setupProcessor(t, payment.WithNowTime(func() time.Time { return now }))
	f.bridge.paymentErr = &paymentsdk.PaymentError{Reason: paymentsdk.FailureDuplicateKey}

	// Order-based ids ignore the timestamp entirely.
	a, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 500, OrderID: "ord-9"})
	require.NoError(t, err)
	b, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 500, OrderID: "ord-9"})
	require.NoError(t, err)
	require.Equal(t, a.TransactionID, b.TransactionID)

	// Ad-hoc ids are stable within the same minute.
	c, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 500})
	require.NoError(t, err)
	d, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 500})
	require.NoError(t, err)
	require.Equal(t, c.TransactionID, d.TransactionID)
	require.NotEqual(t, a.TransactionID, c.TransactionID)
}

func TestProcessingFlagClearedOnEveryBranch(t *testing.T) {
	ctx := context.Background()

	outcomes := []error{
		nil,
		paymentsdk.ErrCanceled,
		&paymentsdk.PaymentError{Reason: paymentsdk.FailureUnexpected},
	}

	for _, sdkErr := range outcomes {
		f := setupProcessor(t)
		f.bridge.paymentErr = sdkErr
		f.bridge.paymentResult = &paymentsdk.PaymentResult{PaymentID: "pay-1"}

		_, err := f.processor.ProcessPayment(ctx, payment.Request{AmountMinor: 100, OrderID: "o"})
		require.NoError(t, err)
		require.False(t, f.processor.IsProcessing())
	}
}
