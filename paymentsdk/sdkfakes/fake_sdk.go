// Package sdkfakes provides a scripted in-memory payment SDK for tests.
package sdkfakes

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/Zrodkin/CharityPad123-sub001/paymentsdk"
)

var _ paymentsdk.SDK = (*FakeSDK)(nil)

// FakeSDK is a thread-safe scripted implementation of paymentsdk.SDK.
// Zero value is unusable; use NewFakeSDK.
type FakeSDK struct {
	mu sync.Mutex

	available      bool
	state          paymentsdk.AuthorizationState
	authorizedLoc  string
	offlineCapable bool
	observers      []func(paymentsdk.AuthorizationState)

	// Scripted results.
	AuthorizeErr   error
	DeauthorizeErr error
	PaymentResult  *paymentsdk.PaymentResult
	PaymentErr     error

	// Recorded calls.
	AuthorizeCalls   []AuthorizeCall
	DeauthorizeCalls int
	PaymentCalls     []paymentsdk.PaymentRequest
}

type AuthorizeCall struct {
	AccessToken string
	LocationID  string
}

func NewFakeSDK() *FakeSDK {
	return &FakeSDK{
		available: true,
		state:     paymentsdk.Unauthorized,
	}
}

func (f *FakeSDK) SetAvailable(available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = available
}

func (f *FakeSDK) SetOfflineCapable(capable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offlineCapable = capable
}

// SetState forces an authorization state and notifies observers, emulating
// an SDK-driven transition.
func (f *FakeSDK) SetState(state paymentsdk.AuthorizationState, locationID string) {
	f.mu.Lock()
	f.state = state
	f.authorizedLoc = ""
	if state == paymentsdk.Authorized {
		f.authorizedLoc = locationID
	}
	observers := make([]func(paymentsdk.AuthorizationState), len(f.observers))
	copy(observers, f.observers)
	f.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

func (f *FakeSDK) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *FakeSDK) AuthorizationState() paymentsdk.AuthorizationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeSDK) AuthorizedLocationID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorizedLoc
}

func (f *FakeSDK) SupportsOfflinePayments() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offlineCapable
}

func (f *FakeSDK) Authorize(_ context.Context, accessToken, locationID string) error {
	f.mu.Lock()
	f.AuthorizeCalls = append(f.AuthorizeCalls, AuthorizeCall{AccessToken: accessToken, LocationID: locationID})
	err := f.AuthorizeErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	f.SetState(paymentsdk.Authorized, locationID)
	return nil
}

func (f *FakeSDK) Deauthorize(_ context.Context) error {
	f.mu.Lock()
	f.DeauthorizeCalls++
	err := f.DeauthorizeErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	f.SetState(paymentsdk.Unauthorized, "")
	return nil
}

func (f *FakeSDK) OnAuthorizationChange(fn func(paymentsdk.AuthorizationState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

func (f *FakeSDK) ProcessPayment(_ context.Context, req paymentsdk.PaymentRequest) (*paymentsdk.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.PaymentCalls = append(f.PaymentCalls, req)

	if f.PaymentErr != nil {
		return nil, f.PaymentErr
	}
	if f.PaymentResult != nil {
		return f.PaymentResult, nil
	}
	return nil, errors.New("FakeSDK: no scripted payment result")
}
