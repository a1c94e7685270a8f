package server

import (
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Wa4h1h/gotftp/internal/driver"
	"github.com/Wa4h1h/gotftp/pkg/metrics"
	"github.com/Wa4h1h/gotftp/pkg/transfer"
	"github.com/Wa4h1h/gotftp/pkg/transport"
	"github.com/Wa4h1h/gotftp/pkg/types"
)

// serveTransfer runs one request on its own socket, which is the server's TID
// for the transfer.
func (s *Server) serveTransfer(local, peer net.Addr, req *types.Request, key transferKey) {
	defer s.wg.Done()
	defer s.forget(key)

	l := s.logger.With(
		"session", uuid.NewString(),
		"peer", peer.String(),
		"op", req.Opcode.String(),
		"file", req.Filename,
	)

	conn, err := transport.Ephemeral(s.ctx, local)
	if err != nil {
		l.Errorf("error while opening transfer socket: %s", err.Error())

		return
	}

	defer func() {
		if err := conn.Close(); err != nil {
			l.Errorf("error while closing transfer socket: %s", err.Error())
		}
	}()

	// mail is refused before any file is opened
	if req.TransferMode() == types.ModeMail {
		s.reject(l, conn, peer, refuse(types.ErrIllegalTftpOp, nil, "mail mode is not supported"))

		return
	}

	var (
		src    io.Reader
		dst    io.Writer
		size   int64 = -1
		commit func(ok bool) error
	)

	switch req.Opcode {
	case types.OpCodeRRQ:
		in, err := s.openSource(req)
		if err != nil {
			s.reject(l, conn, peer, err)

			return
		}

		src, size = in, in.size
		commit = func(bool) error { return in.Close() }
	case types.OpCodeWRQ:
		out, err := s.openSink(req)
		if err != nil {
			s.reject(l, conn, peer, err)

			return
		}

		dst = out
		commit = out.finish
	}

	sess, err := transfer.NewServer(transfer.ServerConfig{
		Request:    req,
		Policy:     s.cfg.Policy,
		FileSize:   size,
		Timeout:    s.cfg.Timeout,
		MaxRetries: s.cfg.NumTries,
	})
	if err != nil {
		l.Errorf("error while creating session: %s", err.Error())

		if errCommit := commit(false); errCommit != nil {
			l.Errorf("error while releasing file: %s", errCommit.Error())
		}

		return
	}

	l.Debugf("transfer started, options %s", req.Options)
	s.cfg.Metrics.TransferStarted()

	stats, err := driver.Run(s.ctx, driver.Params{
		Session: sess,
		Conn:    conn,
		Peer:    peer,
		Source:  src,
		Sink:    dst,
		Logger:  l,
		Trace:   s.cfg.Trace,
	})

	if errCommit := commit(err == nil); errCommit != nil {
		l.Errorf("error while finalizing %s: %s", req.Filename, errCommit.Error())

		if err == nil {
			err = errCommit
		}
	}

	s.cfg.Metrics.TransferFinished(metrics.Outcome{
		Direction:   sess.Direction().String(),
		Err:         err,
		Bytes:       stats.Bytes,
		Retransmits: stats.Retransmits,
		BlockSize:   stats.BlockSize,
		Duration:    stats.Duration,
	})

	if err != nil {
		var terr *transfer.Error
		if errors.As(err, &terr) && terr.Kind == transfer.KindRemote {
			l.Infof("transfer aborted by peer: %s", terr.Message)

			return
		}

		l.Errorf("transfer failed: %s", err.Error())

		return
	}

	l.Infof("transfer done: %d blocks, %d bytes, %d retransmissions, blksize %d",
		stats.Blocks, stats.Bytes, stats.Retransmits, stats.BlockSize)
}

func (s *Server) reject(l *zap.SugaredLogger, conn transport.Conn, peer net.Addr, err error) {
	code, msg := types.ErrNotDefined, err.Error()

	var rerr *requestError
	if errors.As(err, &rerr) {
		code, msg = rerr.code, rerr.msg
	}

	l.Infof("request refused (%s): %s", code, err.Error())
	s.cfg.Metrics.RequestRejected(code.String())

	if err := sendErrorPacket(conn, peer, types.NewError(code, "%s", msg)); err != nil {
		l.Errorf("error while responding to request: %s", err.Error())
	}
}
