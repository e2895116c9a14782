package testutil

import (
	"context"
	"sync"
)

// FakeProber is a controllable connectivity prober.
type FakeProber struct {
	mu    sync.Mutex
	err   error
	calls int

	// Gate, if non-nil, blocks every Ping until it receives a value, is
	// closed, or the context ends.
	Gate chan struct{}

	// Started, if non-nil, receives a value when a Ping begins.
	Started chan struct{}

	// Panic makes Ping panic, simulating a misbehaving client library.
	Panic bool
}

// NewFakeProber creates a prober that succeeds.
func NewFakeProber() *FakeProber {
	return &FakeProber{}
}

// SetErr sets the error returned by subsequent pings; nil means reachable.
func (p *FakeProber) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns how many pings started.
func (p *FakeProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Ping reports the configured result.
func (p *FakeProber) Ping(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.Started != nil {
		select {
		case p.Started <- struct{}{}:
		default:
		}
	}

	if p.Panic {
		panic("fake prober panic")
	}

	if p.Gate != nil {
		select {
		case <-p.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
