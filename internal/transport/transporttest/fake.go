// Package transporttest provides a scripted transport.Caller for store tests.
//
// Routes either respond immediately or are gated: a gated call blocks until
// the test releases it through Next, which lets tests settle overlapping
// requests in any order.
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
)

const waitTimeout = 5 * time.Second

// Responder produces the payload or error for an immediate route.
type Responder func(request transport.Request) (any, error)

// JSON returns a responder that always answers with payload.
func JSON(payload any) Responder {
	return func(transport.Request) (any, error) {
		return payload, nil
	}
}

// Fail returns a responder that always fails with the given status and message.
func Fail(status int, message string) Responder {
	return func(transport.Request) (any, error) {
		return nil, &transport.Failure{Status: status, Message: message}
	}
}

// Call is one gated request waiting for the test to settle it.
type Call struct {
	Request transport.Request
	settle  chan result
}

type result struct {
	payload any
	err     error
}

// Respond settles the call with payload.
func (c *Call) Respond(payload any) {
	c.settle <- result{payload: payload}
}

// Fail settles the call with err.
func (c *Call) Fail(err error) {
	c.settle <- result{err: err}
}

// Fake implements transport.Caller.
type Fake struct {
	mu       sync.Mutex
	routes   map[string]Responder
	gates    map[string]bool
	requests []transport.Request
	pending  chan *Call
}

// NewFake constructs an empty fake; unrouted calls fail with 404.
func NewFake() *Fake {
	return &Fake{
		routes:  make(map[string]Responder),
		gates:   make(map[string]bool),
		pending: make(chan *Call, 64),
	}
}

// Handle routes method+path to responder.
func (f *Fake) Handle(method, path string, responder Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[routeKey(method, path)] = responder
}

// Gate makes calls to method+path block until released through Next.
func (f *Fake) Gate(method, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[routeKey(method, path)] = true
}

// Next returns the next gated call in arrival order.
func (f *Fake) Next(t testing.TB) *Call {
	t.Helper()
	select {
	case call := <-f.pending:
		return call
	case <-time.After(waitTimeout):
		t.Fatalf("no gated call arrived within %s", waitTimeout)
		return nil
	}
}

// Requests returns every request seen so far.
func (f *Fake) Requests() []transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Count returns how many requests matched method+path.
func (f *Fake) Count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, request := range f.requests {
		if request.Method == method && request.Path == path {
			count++
		}
	}
	return count
}

// Call implements transport.Caller. Payloads are round-tripped through JSON
// so stores decode exactly what a server would send.
func (f *Fake) Call(ctx context.Context, request transport.Request, out any) error {
	key := routeKey(request.Method, request.Path)
	f.mu.Lock()
	f.requests = append(f.requests, request)
	gated := f.gates[key]
	responder, routed := f.routes[key]
	f.mu.Unlock()

	var settled result
	switch {
	case gated:
		call := &Call{Request: request, settle: make(chan result, 1)}
		f.pending <- call
		select {
		case settled = <-call.settle:
		case <-ctx.Done():
			return &transport.Failure{Message: "Request cancelled", Err: ctx.Err()}
		}
	case routed:
		settled.payload, settled.err = responder(request)
	default:
		return &transport.Failure{Status: http.StatusNotFound, Message: fmt.Sprintf("no route for %s", key)}
	}

	if settled.err != nil {
		return settled.err
	}
	if out == nil || settled.payload == nil {
		return nil
	}
	encoded, err := json.Marshal(settled.payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

func routeKey(method, path string) string {
	return method + " " + path
}
