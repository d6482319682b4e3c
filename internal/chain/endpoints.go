package chain

import (
	"errors"
	"sync"
)

// ErrEndpointsExhausted means every configured endpoint failed for one
// operation.
var ErrEndpointsExhausted = errors.New("chain: all endpoints exhausted")

// Endpoints is an ordered ring of RPC endpoints with an explicit cursor.
// The cursor survives across operations: once an endpoint starts failing,
// subsequent operations begin from its replacement instead of retrying it
// first.
type Endpoints struct {
	mu     sync.Mutex
	urls   []string
	cursor int
}

func NewEndpoints(urls []string) *Endpoints {
	cp := make([]string, len(urls))
	copy(cp, urls)
	return &Endpoints{urls: cp}
}

func (e *Endpoints) Len() int { return len(e.urls) }

// Current returns the endpoint the cursor points at.
func (e *Endpoints) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.urls[e.cursor]
}

// Advance moves the cursor to the next endpoint, wrapping around, and
// returns it.
func (e *Endpoints) Advance() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor = (e.cursor + 1) % len(e.urls)
	return e.urls[e.cursor]
}
