// Package fake provides in-memory stand-ins for the conductor, the sandbox
// provisioner and the session opener, for use in tests.
package fake

import "sync"

// Call is one recorded method invocation.
type Call struct {
	Method string
	Args   []any
}

// CallRecorder is embedded by fakes to record their calls in order.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *CallRecorder) record(method string, args ...any) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
	r.mu.Unlock()
}

// Calls returns the recorded calls to method, or every call when method
// is empty.
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Methods returns the method names of every recorded call, in order.
func (r *CallRecorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Method
	}
	return out
}
