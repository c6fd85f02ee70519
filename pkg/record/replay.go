package record

// ReplayWindow tracks the last 64 DTLS record sequence numbers of an epoch.
// Check is consulted before decryption and Accept only after the record
// authenticated, so forged records cannot advance the window.
type ReplayWindow struct {
	max    uint64
	bitmap uint64
	seen   bool
}

// Check reports whether seq would be accepted.
func (w *ReplayWindow) Check(seq uint64) bool {
	switch {
	case !w.seen || seq > w.max:
		return true
	case w.max-seq >= 64:
		return false
	default:
		return w.bitmap&(uint64(1)<<(w.max-seq)) == 0
	}
}

// Accept records seq as received.
func (w *ReplayWindow) Accept(seq uint64) {
	switch {
	case !w.seen:
		w.max, w.bitmap, w.seen = seq, 1, true
	case seq > w.max:
		shift := seq - w.max
		if shift >= 64 {
			w.bitmap = 1
		} else {
			w.bitmap = w.bitmap<<shift | 1
		}
		w.max = seq
	case w.max-seq < 64:
		w.bitmap |= uint64(1) << (w.max - seq)
	}
}

// Reset clears the window for a new epoch.
func (w *ReplayWindow) Reset() {
	*w = ReplayWindow{}
}
