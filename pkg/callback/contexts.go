package callback

import (
	"errors"
	"io"
	"reflect"
	"sync"
)

// Contexts holds the per-session opaque values passed to callbacks. The
// owning Session releases them on destruction.
type Contexts struct {
	mu     sync.Mutex
	values map[Kind]any
}

// Set stores v for kind, replacing the previous value without releasing it.
func (c *Contexts) Set(kind Kind, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[Kind]any)
	}
	c.values[kind] = v
}

// Get returns the value for kind, or nil.
func (c *Contexts) Get(kind Kind) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[kind]
}

// Release closes every value implementing io.Closer once and clears the set.
// A value stored under several kinds is closed once.
func (c *Contexts) Release() error {
	c.mu.Lock()
	values := c.values
	c.values = nil
	c.mu.Unlock()

	var errs []error
	closed := make(map[io.Closer]bool)
	for _, k := range Kinds {
		cl, ok := values[k].(io.Closer)
		if !ok {
			continue
		}
		if reflect.TypeOf(cl).Comparable() {
			if closed[cl] {
				continue
			}
			closed[cl] = true
		}
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
