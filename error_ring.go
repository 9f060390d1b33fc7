package reflux

import "sync"

// errorRing keeps the most recent errors up to a fixed capacity.
// A nil ring (capacity <= 0) ignores every call.
type errorRing struct {
	mu   sync.RWMutex
	buf  []error
	next int
	full bool
}

// newErrorRing creates a ring holding up to size errors, or nil when size <= 0.
func newErrorRing(size int) *errorRing {
	if size <= 0 {
		return nil
	}
	return &errorRing{buf: make([]error, size)}
}

// push records err, overwriting the oldest entry when full.
func (r *errorRing) push(err error) {
	if r == nil || err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = err
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// clear drops every recorded error.
func (r *errorRing) clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.next = 0
	r.full = false
}

// all returns the recorded errors, oldest first, or nil when empty.
func (r *errorRing) all() []error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		if r.next == 0 {
			return nil
		}
		return append([]error(nil), r.buf[:r.next]...)
	}
	out := make([]error, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
