package transport

// Funcs builds a Transport from a pair of functions, the shape in which
// user-registered I/O callbacks reach the session.
type Funcs struct {
	SendFunc    func(p []byte) (int, error)
	ReceiveFunc func(p []byte) (int, error)
}

// Send calls SendFunc.
func (f Funcs) Send(p []byte) (int, error) {
	return f.SendFunc(p)
}

// Receive calls ReceiveFunc.
func (f Funcs) Receive(p []byte) (int, error) {
	return f.ReceiveFunc(p)
}

var _ Transport = Funcs{}
