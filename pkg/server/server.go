package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Wa4h1h/gotftp/pkg/metrics"
	"github.com/Wa4h1h/gotftp/pkg/transfer"
	"github.com/Wa4h1h/gotftp/pkg/transport"
	"github.com/Wa4h1h/gotftp/pkg/types"
	"github.com/Wa4h1h/gotftp/pkg/utils"
)

type Config struct {
	Addr       string
	Root       string
	Policy     transfer.Policy
	Timeout    time.Duration
	NumTries   int
	AllowWrite bool
	Overwrite  bool
	ReusePort  bool
	Trace      bool
	// Metrics is optional.
	Metrics *metrics.Collector
}

type transferKey struct {
	peer     string
	filename string
	op       types.OpCode
}

type Server struct {
	cfg    Config
	root   string
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     transport.Conn
	closed   bool
	inflight map[transferKey]struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, l *zap.SugaredLogger) (*Server, error) {
	root, err := cleanRoot(cfg.Root)
	if err != nil {
		return nil, err
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = types.DefaultTimeout
	}

	if cfg.NumTries <= 0 {
		cfg.NumTries = types.DefaultNumTries
	}

	if l == nil {
		l = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:      cfg,
		root:     root,
		logger:   l,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[transferKey]struct{}),
	}, nil
}

func (s *Server) ListenAndServe() error {
	conn, err := transport.Listen(s.ctx, s.cfg.Addr, s.cfg.ReusePort)
	if err != nil {
		s.logger.Error(err.Error())

		return fmt.Errorf("%w: %w", utils.ErrStartingServer, err)
	}

	return s.Serve(conn)
}

// Serve reads requests from conn until Close. It always returns a non-nil
// error; utils.ErrServerClosed after Close.
func (s *Server) Serve(conn transport.Conn) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return multierr.Combine(utils.ErrServerClosed, conn.Close())
	}

	s.conn = conn
	s.mu.Unlock()

	s.logger.Infof("serving %s on %s", s.root, conn.LocalAddr())

	datagram := make([]byte, types.DatagramSize)

	for {
		n, addr, err := conn.Receive(s.ctx, datagram, 0)
		if err != nil {
			if s.ctx.Err() != nil {
				return utils.ErrServerClosed
			}

			if errors.Is(err, net.ErrClosed) {
				return utils.ErrServerClosed
			}

			return fmt.Errorf("error while reading request: %w", err)
		}

		s.handlePacket(conn, addr, datagram[:n])
	}
}

// Close stops the listener, cancels running transfers, which notify their
// peers, and waits for them to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()

	var err error

	if conn != nil {
		if errClose := conn.Close(); errClose != nil {
			err = multierr.Append(err, fmt.Errorf("error while closing connection: %w", errClose))
		}
	}

	s.wg.Wait()

	return err
}

func (s *Server) handlePacket(conn transport.Conn, addr net.Addr, datagram []byte) {
	p, err := types.Decode(datagram)
	if err != nil {
		if req, ok := types.IsInvalidOption(err); ok {
			p = req
		} else {
			s.rejectDatagram(conn, addr, err)

			return
		}
	}

	req, ok := p.(*types.Request)
	if !ok {
		s.logger.Debugf("%s from %s on the listening port", p.Type(), addr)
		s.cfg.Metrics.UnknownTransferID()

		if err := sendErrorPacket(conn, addr, types.NewError(types.ErrUnknownTransferId, "no transfer in progress")); err != nil {
			s.logger.Errorf("error while responding to %s: %s", addr, err.Error())
		}

		return
	}

	key := transferKey{peer: addr.String(), filename: req.Filename, op: req.Opcode}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}

	if _, dup := s.inflight[key]; dup {
		s.mu.Unlock()
		s.logger.Debugf("ignoring retransmitted %s for %s from %s", req.Opcode, req.Filename, addr)

		return
	}

	s.inflight[key] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.serveTransfer(conn.LocalAddr(), addr, req, key)
}

func (s *Server) rejectDatagram(conn transport.Conn, addr net.Addr, err error) {
	code := types.ErrNotDefined
	if errors.Is(err, types.ErrUnknownOpcode) {
		code = types.ErrIllegalTftpOp
	}

	s.logger.Debugf("malformed datagram from %s: %s", addr, err.Error())
	s.cfg.Metrics.RequestRejected(code.String())

	if err := sendErrorPacket(conn, addr, types.NewError(code, "%s", err.Error())); err != nil {
		s.logger.Errorf("error while responding to %s: %s", addr, err.Error())
	}
}

func (s *Server) forget(key transferKey) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}
