package actions

import "sync"

// flightGroup guarantees at-most-one in-flight generation per cache key.
// Later callers block on the in-progress call and reuse its result instead
// of re-issuing the external request; double-generation would break the
// generate_once contract.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

type flightCall struct {
	done chan struct{}
	text string
	err  error
}

func newFlightGroup() *flightGroup {
	return &flightGroup{calls: make(map[string]*flightCall)}
}

// Do executes fn for the key unless a call is already in flight, in which
// case it waits for and returns that call's result. A failed call is removed
// before its waiters wake, so the next evaluation retries generation.
func (g *flightGroup) Do(key string, fn func() (string, error)) (string, error) {
	g.mu.Lock()
	if call, ok := g.calls[key]; ok {
		g.mu.Unlock()
		<-call.done
		return call.text, call.err
	}

	call := &flightCall{done: make(chan struct{})}
	g.calls[key] = call
	g.mu.Unlock()

	call.text, call.err = fn()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	close(call.done)

	return call.text, call.err
}
