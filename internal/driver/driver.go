// Package driver runs a transfer.Session against a transport.Conn, a source
// and a sink. Client and server share it.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Wa4h1h/gotftp/pkg/transfer"
	"github.com/Wa4h1h/gotftp/pkg/transport"
	"github.com/Wa4h1h/gotftp/pkg/types"
	"github.com/Wa4h1h/gotftp/pkg/utils"
)

type Params struct {
	Session *transfer.Session
	Conn    transport.Conn
	// Peer receives the opening packet. With Bind set the session binds to the
	// first datagram coming from Peer's host and answers it from then on.
	Peer   net.Addr
	Bind   bool
	Source io.Reader
	Sink   io.Writer
	Logger *zap.SugaredLogger
	Trace  bool
}

type Stats struct {
	Peer         net.Addr
	Blocks       int
	Bytes        int64
	Retransmits  int
	BlockSize    int
	Options      types.Options
	TransferSize int64
	HasTSize     bool
	Duration     time.Duration
}

type runner struct {
	Params
	peer     net.Addr
	bound    bool
	deadline time.Time
	unknown  []byte
}

// Run drives the session until it finishes. The returned error is nil on
// success and a *transfer.Error otherwise.
func Run(ctx context.Context, p Params) (Stats, error) {
	if p.Logger == nil {
		p.Logger = zap.NewNop().Sugar()
	}

	r := &runner{Params: p, peer: p.Peer, bound: !p.Bind}

	unknown, err := types.Encode(types.NewError(types.ErrUnknownTransferId, "unknown transfer id"))
	if err != nil {
		return Stats{}, fmt.Errorf("error while encoding error packet: %w", err)
	}

	r.unknown = unknown

	started := time.Now()
	runErr := r.loop(ctx)

	s := p.Session
	stats := Stats{
		Peer:        r.peer,
		Blocks:      s.Blocks(),
		Bytes:       s.Bytes(),
		Retransmits: s.Retransmits(),
		BlockSize:   s.BlockSize(),
		Options:     s.Options(),
		Duration:    time.Since(started),
	}
	stats.TransferSize, stats.HasTSize = s.TransferSize()

	return stats, runErr
}

func (r *runner) loop(ctx context.Context) error {
	buf := make([]byte, types.DatagramSize)
	pending := r.Session.Handle(transfer.Start{})

	for {
		for len(pending) > 0 {
			a := pending[0]
			pending = pending[1:]

			if f, ok := a.(transfer.Finish); ok {
				return f.Err
			}

			if next := r.execute(a); next != nil {
				pending = next
			}
		}

		if r.Session.Done() {
			return r.Session.Err()
		}

		pending = r.await(ctx, buf)
	}
}

// execute performs one action. A non-nil result replaces the actions still
// pending: the session's answer to a local failure or to supplied data.
func (r *runner) execute(a transfer.Action) []transfer.Action {
	switch a := a.(type) {
	case transfer.Send:
		if r.Trace {
			r.Logger.Debugf("sent %s to %s", describe(a.Packet), r.peer)
		}

		if err := r.Conn.Send(a.Raw, r.peer); err != nil {
			return r.Session.Handle(transfer.LocalFailure{Code: types.ErrNotDefined, Err: err})
		}

		if !a.KeepTimer {
			r.deadline = time.Now().Add(r.Session.Timeout())
		}
	case transfer.Deliver:
		if _, err := r.Sink.Write(a.Payload); err != nil {
			r.Logger.Errorf("error while writing block: %s", err.Error())

			return r.Session.Handle(transfer.LocalFailure{Code: errorCode(err), Err: err})
		}
	case transfer.NeedData:
		block := make([]byte, a.Size)

		n, err := io.ReadFull(r.Source, block)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			r.Logger.Errorf("error while reading block %d: %s", a.Block, err.Error())

			return r.Session.Handle(transfer.LocalFailure{Code: errorCode(err), Err: err})
		}

		return r.Session.Handle(transfer.Supply{Payload: block[:n]})
	}

	return nil
}

func (r *runner) await(ctx context.Context, buf []byte) []transfer.Action {
	for {
		remaining := time.Until(r.deadline)
		if remaining <= 0 {
			if r.Trace {
				r.Logger.Debugf("timeout waiting for %s", r.peer)
			}

			return r.Session.Handle(transfer.Timeout{})
		}

		n, from, err := r.Conn.Receive(ctx, buf, remaining)
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				continue
			case ctx.Err() != nil:
				return r.Session.Handle(transfer.Cancel{})
			default:
				return r.Session.Handle(transfer.LocalFailure{Code: types.ErrNotDefined, Err: err})
			}
		}

		if !r.admit(from) {
			r.Logger.Debugf("datagram from unknown peer %s rejected", from)

			if err := r.Conn.Send(r.unknown, from); err != nil {
				r.Logger.Errorf("error while answering %s: %s", from, err.Error())
			}

			continue
		}

		pkt, err := types.Decode(buf[:n])
		if err != nil {
			r.Logger.Debugf("malformed datagram from %s: %s", from, err.Error())

			return r.Session.Handle(transfer.Malformed{Err: err})
		}

		if r.Trace {
			r.Logger.Debugf("received %s from %s", describe(pkt), from)
		}

		return r.Session.Handle(transfer.Received{Packet: pkt})
	}
}

// admit binds the session on the first reply from the peer's host and rejects
// every other transfer id afterwards.
func (r *runner) admit(from net.Addr) bool {
	if r.bound {
		return transport.SameAddr(from, r.peer)
	}

	if !transport.SameHost(from, r.peer) {
		return false
	}

	r.peer = from
	r.bound = true

	return true
}

// errorCode maps a local file failure to the TFTP code sent to the peer.
func errorCode(err error) types.ErrCode {
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, utils.ErrDiskFull):
		return types.ErrDiskFull
	case errors.Is(err, os.ErrPermission):
		return types.ErrAccessViolation
	default:
		return types.ErrNotDefined
	}
}

func describe(p types.Packet) string {
	switch p := p.(type) {
	case *types.Request:
		return fmt.Sprintf("%s file=%s mode=%s %s", p.Opcode, p.Filename, p.Mode, p.Options)
	case *types.Data:
		return fmt.Sprintf("DATA block=%d bytes=%d", p.BlockNum, len(p.Payload))
	case *types.Ack:
		return fmt.Sprintf("ACK block=%d", p.BlockNum)
	case *types.Error:
		return fmt.Sprintf("ERROR code=%d msg=%q", uint16(p.ErrorCode), p.ErrMsg)
	case *types.OAck:
		return fmt.Sprintf("OACK %s", p.Options)
	default:
		return "unknown packet"
	}
}
