package driver

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Wa4h1h/gotftp/pkg/transport"
)

type datagram struct {
	from net.Addr
	b    []byte
}

type memNet struct {
	mu    sync.Mutex
	conns map[string]*memConn
}

func newMemNet() *memNet {
	return &memNet{conns: make(map[string]*memConn)}
}

func (n *memNet) conn(addr string) *memConn {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		panic(err)
	}

	c := &memConn{net: n, addr: ua, inbox: make(chan datagram, 256)}

	n.mu.Lock()
	n.conns[ua.String()] = c
	n.mu.Unlock()

	return c
}

type memConn struct {
	net   *memNet
	addr  *net.UDPAddr
	inbox chan datagram

	mu   sync.Mutex
	drop func(b []byte) bool
	sent int
}

var _ transport.Conn = (*memConn)(nil)

func (c *memConn) Send(b []byte, to net.Addr) error {
	c.mu.Lock()
	c.sent++
	dropped := c.drop != nil && c.drop(b)
	c.mu.Unlock()

	if dropped {
		return nil
	}

	c.net.mu.Lock()
	dst := c.net.conns[to.String()]
	c.net.mu.Unlock()

	if dst == nil {
		return nil
	}

	dst.inbox <- datagram{from: c.addr, b: append([]byte(nil), b...)}

	return nil
}

func (c *memConn) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, net.Addr, error) {
	var expired <-chan time.Time

	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()

		expired = t.C
	}

	select {
	case d := <-c.inbox:
		return copy(buf, d.b), d.from, nil
	case <-expired:
		return 0, nil, transport.ErrTimeout
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// next waits for one datagram, failing after a second.
func (c *memConn) next() (datagram, bool) {
	select {
	case d := <-c.inbox:
		return d, true
	case <-time.After(time.Second):
		return datagram{}, false
	}
}

func (c *memConn) sends() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sent
}

func (c *memConn) LocalAddr() net.Addr { return c.addr }

func (c *memConn) Close() error { return nil }
