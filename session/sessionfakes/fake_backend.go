// Package sessionfakes provides a scripted backend for session tests.
package sessionfakes

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/Zrodkin/CharityPad123-sub001/backend"
	"github.com/Zrodkin/CharityPad123-sub001/session"
)

var _ session.Backend = (*FakeBackend)(nil)

type StatusReply struct {
	Resp *backend.StatusResponse
	Err  error
}

type AuthorizeReply struct {
	Resp *backend.AuthorizeResponse
	Err  error
}

// FakeBackend is a thread-safe scripted implementation of session.Backend.
// Reply queues pop one entry per call; the final entry is sticky.
type FakeBackend struct {
	mu sync.Mutex

	AuthorizeQueue []AuthorizeReply
	AuthorizeCalls int

	StatusQueue []StatusReply
	StatusCalls []backend.StatusQuery

	// StatusFunc, when set, overrides the queue entirely.
	StatusFunc func(query backend.StatusQuery) (*backend.StatusResponse, error)

	RefreshTok   *oauth2.Token
	RefreshErr   error
	RefreshCalls int

	DisconnectErr   error
	DisconnectCalls int
	Disconnected    chan string
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		Disconnected: make(chan string, 8),
	}
}

func (f *FakeBackend) Authorize(_ context.Context, tenantID string) (*backend.AuthorizeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.AuthorizeCalls++
	if len(f.AuthorizeQueue) == 0 {
		return nil, errors.New("FakeBackend: no scripted authorize reply")
	}
	reply := f.AuthorizeQueue[0]
	if len(f.AuthorizeQueue) > 1 {
		f.AuthorizeQueue = f.AuthorizeQueue[1:]
	}
	return reply.Resp, reply.Err
}

func (f *FakeBackend) Status(_ context.Context, query backend.StatusQuery) (*backend.StatusResponse, error) {
	f.mu.Lock()
	f.StatusCalls = append(f.StatusCalls, query)
	statusFunc := f.StatusFunc
	f.mu.Unlock()

	if statusFunc != nil {
		return statusFunc(query)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.StatusQueue) == 0 {
		return nil, errors.New("FakeBackend: no scripted status reply")
	}
	reply := f.StatusQueue[0]
	if len(f.StatusQueue) > 1 {
		f.StatusQueue = f.StatusQueue[1:]
	}
	return reply.Resp, reply.Err
}

func (f *FakeBackend) Refresh(_ context.Context, _, _ string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.RefreshCalls++
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	if f.RefreshTok == nil {
		return nil, errors.New("FakeBackend: no scripted refresh token")
	}
	return f.RefreshTok, nil
}

func (f *FakeBackend) Disconnect(_ context.Context, tenantID string) error {
	f.mu.Lock()
	f.DisconnectCalls++
	err := f.DisconnectErr
	f.mu.Unlock()

	select {
	case f.Disconnected <- tenantID:
	default:
	}
	return err
}

// StatusCallCount returns how many status calls have been recorded.
func (f *FakeBackend) StatusCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.StatusCalls)
}
