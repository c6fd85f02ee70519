package callback

import (
	"reflect"
	"sync"

	"github.com/sslkit/sslkit-go/pkg/status"
)

// Registry holds the registered callbacks of a Context.
type Registry struct {
	mu    sync.RWMutex
	slots map[Kind]Callback
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[Kind]Callback)}
}

// Register sets the slot for cb's kind, replacing any previous function.
// A nil function clears the slot.
func (r *Registry) Register(cb Callback) {
	if cb == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if isNil(cb) {
		delete(r.slots, cb.Kind())
		return
	}
	r.slots[cb.Kind()] = cb
}

// Unregister clears the slot for kind.
func (r *Registry) Unregister(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, kind)
}

// Lookup returns the callback registered for kind.
func (r *Registry) Lookup(kind Kind) (Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.slots[kind]
	return cb, ok
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind Kind) bool {
	_, ok := r.Lookup(kind)
	return ok
}

// Registered returns the set kinds in declaration order.
func (r *Registry) Registered() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Kind
	for _, k := range Kinds {
		if _, ok := r.slots[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Validate checks that the record protection callbacks are registered
// together. The I/O callbacks may be set individually; the other direction
// then uses the bound transport.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, seal := r.slots[KindMacEncrypt]
	_, open := r.slots[KindDecryptVerify]
	if seal != open {
		return status.Errorf(status.CodeCallbackPair, "%s and %s must be registered together", KindMacEncrypt, KindDecryptVerify)
	}
	return nil
}

// Snapshot returns an independent copy of the registry.
func (r *Registry) Snapshot() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for k, v := range r.slots {
		out.slots[k] = v
	}
	return out
}

// IOSend returns the registered send function or nil.
func (r *Registry) IOSend() IOSendFunc {
	cb, _ := r.Lookup(KindIOSend)
	f, _ := cb.(IOSendFunc)
	return f
}

// IORecv returns the registered receive function or nil.
func (r *Registry) IORecv() IORecvFunc {
	cb, _ := r.Lookup(KindIORecv)
	f, _ := cb.(IORecvFunc)
	return f
}

// MacEncrypt returns the registered record sealing function or nil.
func (r *Registry) MacEncrypt() MacEncryptFunc {
	cb, _ := r.Lookup(KindMacEncrypt)
	f, _ := cb.(MacEncryptFunc)
	return f
}

// DecryptVerify returns the registered record opening function or nil.
func (r *Registry) DecryptVerify() DecryptVerifyFunc {
	cb, _ := r.Lookup(KindDecryptVerify)
	f, _ := cb.(DecryptVerifyFunc)
	return f
}

// PKSign returns the registered signing function or nil.
func (r *Registry) PKSign() PKSignFunc {
	cb, _ := r.Lookup(KindPKSign)
	f, _ := cb.(PKSignFunc)
	return f
}

// PKVerify returns the registered verification function or nil.
func (r *Registry) PKVerify() PKVerifyFunc {
	cb, _ := r.Lookup(KindPKVerify)
	f, _ := cb.(PKVerifyFunc)
	return f
}

// PKEncrypt returns the registered encryption function or nil.
func (r *Registry) PKEncrypt() PKEncryptFunc {
	cb, _ := r.Lookup(KindPKEncrypt)
	f, _ := cb.(PKEncryptFunc)
	return f
}

// PKDecrypt returns the registered decryption function or nil.
func (r *Registry) PKDecrypt() PKDecryptFunc {
	cb, _ := r.Lookup(KindPKDecrypt)
	f, _ := cb.(PKDecryptFunc)
	return f
}

// MissingCRL returns the registered missing-CRL handler or nil.
func (r *Registry) MissingCRL() MissingCRLFunc {
	cb, _ := r.Lookup(KindMissingCRL)
	f, _ := cb.(MissingCRLFunc)
	return f
}

// Logging returns the registered log sink or nil.
func (r *Registry) Logging() LogFunc {
	cb, _ := r.Lookup(KindLogging)
	f, _ := cb.(LogFunc)
	return f
}

// isNil reports whether cb wraps a nil function.
func isNil(cb Callback) bool {
	v := reflect.ValueOf(cb)
	return v.Kind() == reflect.Func && v.IsNil()
}
