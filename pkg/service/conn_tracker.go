package service

import (
	"sync"
	"time"
)

// connTracker records the last activity of each served connection. The
// idle reaper uses it to force-close connections that stopped talking.
type connTracker struct {
	mu    sync.Mutex
	now   func() time.Time
	conns map[*Conn]time.Time
}

func newConnTracker() *connTracker {
	return &connTracker{
		now:   time.Now,
		conns: make(map[*Conn]time.Time),
	}
}

// Add registers a connection with the current time.
func (ct *connTracker) Add(conn *Conn) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.conns[conn] = ct.now()
}

// Touch refreshes the activity time of a tracked connection.
func (ct *connTracker) Touch(conn *Conn) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if _, ok := ct.conns[conn]; ok {
		ct.conns[conn] = ct.now()
	}
}

// Remove deregisters a connection. Safe to call on absent connections.
func (ct *connTracker) Remove(conn *Conn) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.conns, conn)
}

// CloseIdle closes and removes all connections idle for longer than maxIdle.
// Returns the number of connections closed.
func (ct *connTracker) CloseIdle(maxIdle time.Duration) int {
	ct.mu.Lock()
	cutoff := ct.now().Add(-maxIdle)
	var idle []*Conn
	for conn, seen := range ct.conns {
		if seen.Before(cutoff) {
			idle = append(idle, conn)
			delete(ct.conns, conn)
		}
	}
	ct.mu.Unlock()

	for _, conn := range idle {
		_ = conn.Close()
	}
	return len(idle)
}

// CloseAll closes and removes all tracked connections.
func (ct *connTracker) CloseAll() int {
	ct.mu.Lock()
	all := make([]*Conn, 0, len(ct.conns))
	for conn := range ct.conns {
		all = append(all, conn)
	}
	clear(ct.conns)
	ct.mu.Unlock()

	for _, conn := range all {
		_ = conn.Close()
	}
	return len(all)
}

// Len returns the number of tracked connections.
func (ct *connTracker) Len() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.conns)
}
