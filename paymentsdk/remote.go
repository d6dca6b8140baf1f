package paymentsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	agentRequestTimeout = 10 * time.Second

	// Payment submission runs until a terminal SDK callback; the agent call
	// can legitimately take as long as a cardholder interaction.
	agentPaymentTimeout = 5 * time.Minute

	agentStatePollInterval = 2 * time.Second
)

// RemoteSDK implements SDK over the vendor's local reader agent, which
// exposes the real platform SDK on a loopback HTTP port. State-change
// observation is driven by polling the agent's state endpoint.
type RemoteSDK struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	mu        sync.Mutex
	lastState AuthorizationState
	observers []func(AuthorizationState)
	stopPoll  chan struct{}
}

var _ SDK = (*RemoteSDK)(nil)

type RemoteOption func(*RemoteSDK)

func WithRemoteHTTPClient(hc *http.Client) RemoteOption {
	return func(s *RemoteSDK) { s.httpClient = hc }
}

func WithRemoteLogger(logger zerolog.Logger) RemoteOption {
	return func(s *RemoteSDK) { s.logger = logger }
}

func NewRemoteSDK(agentURL string, options ...RemoteOption) (*RemoteSDK, error) {
	if agentURL == "" {
		return nil, errors.New("[NewRemoteSDK] agentURL is required")
	}

	s := &RemoteSDK{
		baseURL:    strings.TrimRight(agentURL, "/"),
		httpClient: &http.Client{Timeout: agentRequestTimeout},
		logger:     zerolog.Nop(),
		lastState:  Unauthorized,
		stopPoll:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}

	go s.pollStateLoop()
	return s, nil
}

// Close stops the state-observation loop.
func (s *RemoteSDK) Close() {
	close(s.stopPoll)
}

type agentState struct {
	State      AuthorizationState `json:"state"`
	LocationID string             `json:"location_id"`
	Offline    bool               `json:"supports_offline_payments"`
}

func (s *RemoteSDK) Available() bool {
	_, err := s.fetchState(context.Background())
	return err == nil
}

func (s *RemoteSDK) AuthorizationState() AuthorizationState {
	st, err := s.fetchState(context.Background())
	if err != nil {
		return Unauthorized
	}
	return st.State
}

func (s *RemoteSDK) AuthorizedLocationID() string {
	st, err := s.fetchState(context.Background())
	if err != nil || st.State != Authorized {
		return ""
	}
	return st.LocationID
}

func (s *RemoteSDK) SupportsOfflinePayments() bool {
	st, err := s.fetchState(context.Background())
	if err != nil {
		return false
	}
	return st.Offline
}

func (s *RemoteSDK) Authorize(ctx context.Context, accessToken, locationID string) error {
	body := map[string]string{
		"access_token": accessToken,
		"location_id":  locationID,
	}
	if err := s.post(ctx, "/v1/authorize", body, nil, agentRequestTimeout); err != nil {
		return errors.Wrap(err, "[RemoteSDK.Authorize] post")
	}
	s.noteState(Authorized)
	return nil
}

func (s *RemoteSDK) Deauthorize(ctx context.Context) error {
	if err := s.post(ctx, "/v1/deauthorize", struct{}{}, nil, agentRequestTimeout); err != nil {
		return errors.Wrap(err, "[RemoteSDK.Deauthorize] post")
	}
	s.noteState(Unauthorized)
	return nil
}

func (s *RemoteSDK) OnAuthorizationChange(fn func(AuthorizationState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *RemoteSDK) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	var out struct {
		PaymentID string        `json:"payment_id"`
		Offline   bool          `json:"offline"`
		Status    string        `json:"status"` // finished | failed | canceled
		Reason    FailureReason `json:"reason,omitempty"`
		Message   string        `json:"message,omitempty"`
	}

	payload := map[string]interface{}{
		"amount_minor":    req.AmountMinor,
		"idempotency_key": req.IdempotencyKey,
		"mode":            req.Mode,
		"order_id":        req.OrderID,
		"catalog_item_id": req.CatalogItemID,
		"note":            req.Note,
	}

	if err := s.post(ctx, "/v1/payments", payload, &out, agentPaymentTimeout); err != nil {
		// The agent being unreachable mid-payment is indistinguishable
		// from a network drop at the platform boundary.
		return nil, &PaymentError{Reason: FailureNoNetwork, Message: err.Error()}
	}

	switch out.Status {
	case "finished":
		return &PaymentResult{PaymentID: out.PaymentID, Offline: out.Offline}, nil
	case "canceled":
		return nil, ErrCanceled
	case "failed":
		reason := out.Reason
		if reason == "" {
			reason = FailureUnexpected
		}
		return nil, &PaymentError{Reason: reason, Message: out.Message}
	default:
		return nil, &PaymentError{Reason: FailureUnexpected, Message: "unknown agent status " + out.Status}
	}
}

func (s *RemoteSDK) pollStateLoop() {
	ticker := time.NewTicker(agentStatePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopPoll:
			return
		case <-ticker.C:
			st, err := s.fetchState(context.Background())
			if err != nil {
				continue
			}
			s.noteState(st.State)
		}
	}
}

// noteState records the latest observed state and notifies observers on a
// transition.
func (s *RemoteSDK) noteState(state AuthorizationState) {
	s.mu.Lock()
	if state == s.lastState {
		s.mu.Unlock()
		return
	}
	s.lastState = state
	observers := make([]func(AuthorizationState), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	s.logger.Info().Str("state", string(state)).Msg("sdk authorization state changed")
	for _, fn := range observers {
		fn(state)
	}
}

func (s *RemoteSDK) fetchState(ctx context.Context) (*agentState, error) {
	ctx, cancel := context.WithTimeout(ctx, agentRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/state", nil)
	if err != nil {
		return nil, errors.Wrap(err, "[RemoteSDK.fetchState] build request")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[RemoteSDK.fetchState] request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("[RemoteSDK.fetchState] agent returned %d", resp.StatusCode)
	}

	var st agentState
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&st); err != nil {
		return nil, errors.Wrap(err, "[RemoteSDK.fetchState] decode")
	}
	return &st, nil
}

func (s *RemoteSDK) post(ctx context.Context, path string, body, out interface{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	hc := &http.Client{Timeout: timeout}
	if s.httpClient != nil {
		// Clone the configured client so the per-call timeout applies.
		clone := *s.httpClient
		clone.Timeout = timeout
		hc = &clone
	}

	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("agent returned %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
