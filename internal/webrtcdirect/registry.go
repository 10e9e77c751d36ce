package webrtcdirect

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Tracked is a connection the Registry can own.
type Tracked interface {
	io.Closer
	// Done is closed once the connection has closed for any reason.
	Done() <-chan struct{}
}

// Registry holds the live connections of one listener. Each connection
// removes itself when it closes.
type Registry struct {
	mu     sync.Mutex
	conns  []Tracked
	closed bool

	onRemove func(Tracked)
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Track adds c. After CloseAll the registry refuses new connections: c is
// closed and ErrListenerClosed returned.
func (r *Registry) Track(c Tracked) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = c.Close()
		return ErrListenerClosed
	}
	r.conns = append(r.conns, c)
	r.mu.Unlock()

	go func() {
		<-c.Done()
		r.remove(c)
	}()
	return nil
}

func (r *Registry) remove(c Tracked) {
	r.mu.Lock()
	removed := false
	for i, tracked := range r.conns {
		if tracked == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			removed = true
			break
		}
	}
	onRemove := r.onRemove
	r.mu.Unlock()

	if removed && onRemove != nil {
		onRemove(c)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot returns the tracked connections in the order they were added.
func (r *Registry) Snapshot() []Tracked {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tracked, len(r.conns))
	copy(out, r.conns)
	return out
}

// CloseAll closes every tracked connection concurrently and waits for the
// closes to return or ctx to end. A connection whose Close has returned is
// removed before CloseAll returns; one still closing when ctx ends stays
// tracked until it finishes. It returns the joined close errors.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	conns := make([]Tracked, len(r.conns))
	copy(conns, r.conns)
	r.mu.Unlock()

	type closeResult struct {
		c   Tracked
		err error
	}
	results := make(chan closeResult, len(conns))
	for _, c := range conns {
		go func(c Tracked) {
			results <- closeResult{c: c, err: c.Close()}
		}(c)
	}

	var errs []error
	for range conns {
		select {
		case res := <-results:
			r.remove(res.c)
			if res.err != nil {
				errs = append(errs, res.err)
			}
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			return errors.Join(errs...)
		}
	}
	return errors.Join(errs...)
}
