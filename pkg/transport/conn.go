package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"
)

var ErrTimeout = errors.New("error: receive timed out")

// Conn is the datagram capability a transfer runs on.
type Conn interface {
	Send(b []byte, to net.Addr) error
	// Receive blocks until a datagram arrives, timeout elapses (ErrTimeout) or
	// ctx is done (ctx.Err()). A zero timeout waits on ctx alone.
	Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, net.Addr, error)
	LocalAddr() net.Addr
	Close() error
}

type UDPConn struct {
	pc net.PacketConn
}

func Wrap(pc net.PacketConn) *UDPConn {
	return &UDPConn{pc: pc}
}

// Listen opens a UDP socket on addr. With reusePort set the socket carries
// SO_REUSEPORT where the platform supports it.
func Listen(ctx context.Context, addr string, reusePort bool) (*UDPConn, error) {
	var lc net.ListenConfig

	if reusePort {
		lc.Control = controlReusePort()
	}

	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("error while listening on %s: %w", addr, err)
	}

	return &UDPConn{pc: pc}, nil
}

// Ephemeral opens a socket on a kernel chosen port of the interface local is
// bound to, giving each transfer its own TID.
func Ephemeral(ctx context.Context, local net.Addr) (*UDPConn, error) {
	host := ""

	if u, ok := local.(*net.UDPAddr); ok && u.IP != nil && !u.IP.IsUnspecified() {
		host = u.IP.String()
	}

	return Listen(ctx, net.JoinHostPort(host, "0"), false)
}

func (c *UDPConn) Send(b []byte, to net.Addr) error {
	if _, err := c.pc.WriteTo(b, to); err != nil {
		return fmt.Errorf("error while writing to %s: %w", to, err)
	}

	return nil
}

func (c *UDPConn) Receive(ctx context.Context, buf []byte, timeout time.Duration) (int, net.Addr, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := c.pc.SetReadDeadline(deadline); err != nil {
		return 0, nil, fmt.Errorf("error while setting read timeout: %w", err)
	}

	// unblock ReadFrom when ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		_ = c.pc.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	n, addr, err := c.pc.ReadFrom(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, nil, ErrTimeout
		}

		return 0, nil, fmt.Errorf("error while reading datagram: %w", err)
	}

	return n, addr, nil
}

func (c *UDPConn) LocalAddr() net.Addr {
	return c.pc.LocalAddr()
}

func (c *UDPConn) Close() error {
	return c.pc.Close()
}

// CloseAll closes every conn and reports all failures.
func CloseAll(conns ...Conn) error {
	var err error

	for _, c := range conns {
		if c != nil {
			err = multierr.Append(err, c.Close())
		}
	}

	return err
}

// SameHost reports whether a and b carry the same IP, ignoring the port.
func SameHost(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)

	if !okA || !okB {
		return a.String() == b.String()
	}

	return ua.IP.Equal(ub.IP)
}

// SameAddr reports whether a and b name the same IP and port.
func SameAddr(a, b net.Addr) bool {
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)

	if !okA || !okB {
		return a.String() == b.String()
	}

	return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
}
