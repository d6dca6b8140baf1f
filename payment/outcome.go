package payment

// OutcomeCode classifies a terminal payment result. The classification
// drives idempotency-key retention, not just user messaging.
type OutcomeCode string

const (
	// OutcomeFinished: payment completed. Key retained so a retried
	// submission cannot double-charge.
	OutcomeFinished OutcomeCode = "finished"

	// OutcomeDuplicate: the platform already has this exact attempt.
	// Key retained; it identifies the existing server-side payment.
	OutcomeDuplicate OutcomeCode = "duplicate"

	// OutcomeInProgress: an outcome for this key is still pending
	// server-side. Key retained.
	OutcomeInProgress OutcomeCode = "in_progress"

	// OutcomeOfflineQueued: no network but offline mode accepted the
	// payment for later upload. Key retained for the offline queue.
	OutcomeOfflineQueued OutcomeCode = "offline_queued"

	// OutcomeNoNetwork: no network and offline unsupported. Key released;
	// the user may retry with a fresh key.
	OutcomeNoNetwork OutcomeCode = "no_network"

	// OutcomeCanceled: explicit abandonment. Key released so a retry
	// looks like a fresh attempt.
	OutcomeCanceled OutcomeCode = "canceled"

	// OutcomeFailed: any other terminal failure (invalid params, location
	// permission, time skew, offline limits, timeout, unsupported mode,
	// unexpected). The attempt is dead; key released.
	OutcomeFailed OutcomeCode = "failed"
)

// Outcome is the classified result of one ProcessPayment call. Terminal SDK
// failures are absorbed into an Outcome rather than returned as errors.
type Outcome struct {
	Success       bool        `json:"success"`
	Code          OutcomeCode `json:"code"`
	PaymentID     string      `json:"payment_id,omitempty"`
	TransactionID string      `json:"transaction_id"`

	// Message is user-facing.
	Message string `json:"message"`

	// KeyRetained reports whether the idempotency key stays in the
	// ledger for this transaction id.
	KeyRetained bool `json:"key_retained"`
}

var outcomeMessages = map[OutcomeCode]string{
	OutcomeFinished:      "Payment complete.",
	OutcomeDuplicate:     "This payment was already processed.",
	OutcomeInProgress:    "A payment for this transaction is still being processed. Please wait.",
	OutcomeOfflineQueued: "No connection right now. The payment was stored and will be processed automatically.",
	OutcomeNoNetwork:     "No connection. Please check the network and try again.",
	OutcomeCanceled:      "Payment canceled.",
	OutcomeFailed:        "The payment could not be completed. Please try again.",
}

func messageFor(code OutcomeCode) string {
	return outcomeMessages[code]
}
