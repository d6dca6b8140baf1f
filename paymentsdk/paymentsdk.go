// Package paymentsdk defines the boundary with the payment platform's SDK:
// location-scoped authorization and card-present payment submission. The SDK
// owns the payment network protocol; this package only types its surface.
package paymentsdk

import (
	"context"
	"errors"
	"fmt"
)

// AuthorizationState mirrors the SDK's own three-state authorization model.
type AuthorizationState string

const (
	Unauthorized AuthorizationState = "unauthorized"
	Authorizing  AuthorizationState = "authorizing"
	Authorized   AuthorizationState = "authorized"
)

// ProcessingMode selects how a payment is submitted.
type ProcessingMode string

const (
	// OnlineOnly rejects the payment if the platform is unreachable.
	OnlineOnly ProcessingMode = "online_only"
	// AutoDetectOffline falls back to the offline queue when the platform
	// is unreachable. Only valid for merchants opted in to offline
	// payments; the platform rejects it outright otherwise.
	AutoDetectOffline ProcessingMode = "auto_detect_offline"
)

// PaymentRequest describes one payment submission.
type PaymentRequest struct {
	AmountMinor    int64
	IdempotencyKey string
	Mode           ProcessingMode
	OrderID        string
	CatalogItemID  string
	Note           string
}

// PaymentResult is the terminal success outcome of a submission.
type PaymentResult struct {
	PaymentID string
	Offline   bool
}

// FailureReason classifies terminal payment failures as reported by the SDK.
type FailureReason string

const (
	FailureDuplicateKey       FailureReason = "idempotency_key_reused"
	FailurePaymentInProgress  FailureReason = "payment_already_in_progress"
	FailureNoNetwork          FailureReason = "no_network"
	FailureInvalidParams      FailureReason = "invalid_parameters"
	FailureLocationPermission FailureReason = "location_permission"
	FailureTimeSkew           FailureReason = "device_time_skew"
	FailureOfflineLimit       FailureReason = "offline_limit_exceeded"
	FailureTimeout            FailureReason = "timeout"
	FailureUnsupportedMode    FailureReason = "unsupported_mode"
	FailureUnexpected         FailureReason = "unexpected"
)

// PaymentError is a classified terminal failure from the SDK.
type PaymentError struct {
	Reason  FailureReason
	Message string
}

func (e *PaymentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment failed (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("payment failed (%s)", e.Reason)
}

// AsPaymentError unwraps err into a *PaymentError.
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrCanceled is returned when the cardholder abandons the payment.
var ErrCanceled = errors.New("payment canceled by user")

// SDK is the payment SDK surface this subsystem consumes. Implementations
// must be safe for concurrent use.
type SDK interface {
	// Available reports whether the SDK (or its local agent) is reachable.
	Available() bool

	AuthorizationState() AuthorizationState

	// AuthorizedLocationID is the location the SDK is currently authorized
	// for; empty unless AuthorizationState is Authorized.
	AuthorizedLocationID() string

	Authorize(ctx context.Context, accessToken, locationID string) error
	Deauthorize(ctx context.Context) error

	// OnAuthorizationChange registers an observer for SDK-driven
	// authorization state transitions.
	OnAuthorizationChange(fn func(AuthorizationState))

	// SupportsOfflinePayments reports the merchant-level offline
	// eligibility known to the SDK.
	SupportsOfflinePayments() bool

	// ProcessPayment runs a payment to one of its terminal outcomes. A nil
	// error means finished; *PaymentError means failed; ErrCanceled means
	// the user abandoned it.
	ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
}
