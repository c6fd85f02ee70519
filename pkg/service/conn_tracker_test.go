package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sslkit/sslkit-go/pkg/session"
	"github.com/sslkit/sslkit-go/pkg/transport"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// closeCounter is the socket of a tracked test connection.
type closeCounter struct {
	n atomic.Int32
}

func (c *closeCounter) Close() error {
	c.n.Add(1)
	return nil
}

func (c *closeCounter) closed() bool {
	return c.n.Load() > 0
}

func newTrackedConn(t *testing.T, ctx *session.Context) (*Conn, *closeCounter) {
	t.Helper()
	sess, err := ctx.NewSession()
	require.NoError(t, err)
	sock := &closeCounter{}
	a, _ := transport.NewPipe(false)
	conn := newConn(sess, a, sock, nil)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, sock
}

// fakeClock lets tests move the tracker's notion of time.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestTracker() (*connTracker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ct := newConnTracker()
	ct.now = clk.Now
	return ct, clk
}

func TestConnTracker_AddAndRemove(t *testing.T) {
	ctx := newContext(t, version.TLSv1_2Server, nil)
	ct, _ := newTestTracker()
	conn, _ := newTrackedConn(t, ctx)

	ct.Add(conn)
	assert.Equal(t, 1, ct.Len())

	ct.Remove(conn)
	assert.Equal(t, 0, ct.Len())

	// Removing twice is harmless.
	ct.Remove(conn)
	assert.Equal(t, 0, ct.Len())
}

func TestConnTracker_CloseIdle(t *testing.T) {
	ctx := newContext(t, version.TLSv1_2Server, nil)
	ct, clk := newTestTracker()

	idle, idleSock := newTrackedConn(t, ctx)
	busy, busySock := newTrackedConn(t, ctx)
	ct.Add(idle)
	ct.Add(busy)

	clk.now = clk.now.Add(90 * time.Second)
	ct.Touch(busy)
	clk.now = clk.now.Add(30 * time.Second)

	assert.Equal(t, 1, ct.CloseIdle(time.Minute))
	assert.True(t, idleSock.closed())
	assert.False(t, busySock.closed())
	assert.Equal(t, 1, ct.Len())
	assert.Equal(t, 1, ctx.LiveSessions())
}

func TestConnTracker_CloseIdle_NoneIdle(t *testing.T) {
	ctx := newContext(t, version.TLSv1_2Server, nil)
	ct, _ := newTestTracker()
	conn, sock := newTrackedConn(t, ctx)
	ct.Add(conn)

	assert.Equal(t, 0, ct.CloseIdle(time.Minute))
	assert.False(t, sock.closed())
}

func TestConnTracker_TouchUntracked(t *testing.T) {
	ctx := newContext(t, version.TLSv1_2Server, nil)
	ct, _ := newTestTracker()
	conn, _ := newTrackedConn(t, ctx)

	ct.Touch(conn)
	assert.Equal(t, 0, ct.Len())
}

func TestConnTracker_CloseAll(t *testing.T) {
	ctx := newContext(t, version.TLSv1_2Server, nil)
	ct, _ := newTestTracker()
	var socks []*closeCounter
	for range 3 {
		conn, sock := newTrackedConn(t, ctx)
		ct.Add(conn)
		socks = append(socks, sock)
	}

	assert.Equal(t, 3, ct.CloseAll())
	assert.Equal(t, 0, ct.Len())
	assert.Equal(t, 0, ctx.LiveSessions())
	for _, sock := range socks {
		assert.Equal(t, int32(1), sock.n.Load())
	}
}
