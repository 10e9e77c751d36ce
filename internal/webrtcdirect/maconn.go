package webrtcdirect

import (
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// maConn exposes a detached data channel as a manet.Conn.
//
// Deadlines use timers: when one fires the channel is closed, which unblocks
// any pending Read or Write. A conn whose deadline fired is unusable, the
// same as a net.Pipe.
type maConn struct {
	rwc io.ReadWriteCloser
	// teardown releases whatever owns the channel (the peer connection).
	teardown func()

	laddr, raddr ma.Multiaddr
	lnet, rnet   net.Addr

	mu             sync.Mutex
	readTimer      *time.Timer
	writeTimer     *time.Timer
	deadlineClosed bool

	closed atomic.Bool
	done   chan struct{}
}

var _ manet.Conn = (*maConn)(nil)

func newMaConn(rwc io.ReadWriteCloser, teardown func(), laddr, raddr ma.Multiaddr, lnet, rnet net.Addr) *maConn {
	if lnet == nil {
		lnet = channelAddr("local")
	}
	if rnet == nil {
		rnet = channelAddr("remote")
	}
	return &maConn{
		rwc:      rwc,
		teardown: teardown,
		laddr:    laddr,
		raddr:    raddr,
		lnet:     lnet,
		rnet:     rnet,
		done:     make(chan struct{}),
	}
}

func (c *maConn) Read(b []byte) (int, error) {
	n, err := c.rwc.Read(b)
	if err != nil {
		err = c.ioError(err)
	}
	return n, err
}

func (c *maConn) Write(b []byte) (int, error) {
	n, err := c.rwc.Write(b)
	if err != nil {
		err = c.ioError(err)
	}
	return n, err
}

// ioError maps a failed Read or Write. The channel is dead either way, so
// the conn is closed.
func (c *maConn) ioError(err error) error {
	c.mu.Lock()
	deadline := c.deadlineClosed
	c.mu.Unlock()
	_ = c.Close()
	if deadline {
		return os.ErrDeadlineExceeded
	}
	return err
}

// Close is idempotent. It closes the channel and tears down its owner.
func (c *maConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	c.stopTimersLocked()
	deadline := c.deadlineClosed
	c.mu.Unlock()

	var err error
	if !deadline {
		err = c.rwc.Close()
	}
	if c.teardown != nil {
		c.teardown()
	}
	close(c.done)
	return err
}

func (c *maConn) Done() <-chan struct{} {
	return c.done
}

func (c *maConn) LocalMultiaddr() ma.Multiaddr  { return c.laddr }
func (c *maConn) RemoteMultiaddr() ma.Multiaddr { return c.raddr }
func (c *maConn) LocalAddr() net.Addr           { return c.lnet }
func (c *maConn) RemoteAddr() net.Addr          { return c.rnet }

func (c *maConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimer = c.resetTimerLocked(c.readTimer, t)
	c.writeTimer = c.resetTimerLocked(c.writeTimer, t)
	return nil
}

func (c *maConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimer = c.resetTimerLocked(c.readTimer, t)
	return nil
}

func (c *maConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeTimer = c.resetTimerLocked(c.writeTimer, t)
	return nil
}

func (c *maConn) resetTimerLocked(timer *time.Timer, t time.Time) *time.Timer {
	if timer != nil {
		timer.Stop()
	}
	if t.IsZero() || c.deadlineClosed {
		return nil
	}
	d := time.Until(t)
	if d <= 0 {
		c.closeFromDeadlineLocked()
		return nil
	}
	return time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closeFromDeadlineLocked()
	})
}

// closeFromDeadlineLocked must be called with c.mu held.
func (c *maConn) closeFromDeadlineLocked() {
	if c.deadlineClosed {
		return
	}
	c.deadlineClosed = true
	_ = c.rwc.Close()
}

func (c *maConn) stopTimersLocked() {
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
}

// channelAddr stands in for a net.Addr when the endpoint has no socket
// address of its own.
type channelAddr string

func (a channelAddr) Network() string { return "webrtc" }
func (a channelAddr) String() string  { return string(a) }
