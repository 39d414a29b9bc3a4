package runtime

import (
	"fmt"
	"sync"

	"github.com/drblury/botflow/adapter"
)

// pendingCalls tracks action calls waiting for a response frame, keyed by
// echo.
type pendingCalls struct {
	mu      sync.Mutex
	waiting map[string]chan adapter.Response
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{waiting: make(map[string]chan adapter.Response)}
}

func (p *pendingCalls) register(echo string) (<-chan adapter.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.waiting[echo]; ok {
		return nil, fmt.Errorf("echo %q is already waiting for a response", echo)
	}
	ch := make(chan adapter.Response, 1)
	p.waiting[echo] = ch
	return ch, nil
}

func (p *pendingCalls) forget(echo string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiting, echo)
}

// resolve hands resp to its waiting call and reports whether one existed.
func (p *pendingCalls) resolve(resp adapter.Response) bool {
	p.mu.Lock()
	ch, ok := p.waiting[resp.Echo]
	delete(p.waiting, resp.Echo)
	p.mu.Unlock()
	if ok {
		ch <- resp
	}
	return ok
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}

// failAll completes every waiting call with err.
func (p *pendingCalls) failAll(err error) int {
	p.mu.Lock()
	waiting := p.waiting
	p.waiting = make(map[string]chan adapter.Response)
	p.mu.Unlock()

	for echo, ch := range waiting {
		ch <- adapter.Response{Echo: echo, Err: err}
	}
	return len(waiting)
}
