package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Wa4h1h/gotftp/internal/driver"
	"github.com/Wa4h1h/gotftp/pkg/netascii"
	"github.com/Wa4h1h/gotftp/pkg/transfer"
	"github.com/Wa4h1h/gotftp/pkg/transport"
	"github.com/Wa4h1h/gotftp/pkg/types"
)

type Config struct {
	Timeout  time.Duration
	NumTries int
	// BlockSize is requested through blksize when set and not 512.
	BlockSize int
	// TSize asks for the file size on reads and announces it on writes.
	TSize bool
	Mode  string
	Trace bool
}

func DefaultConfig() Config {
	return Config{
		Timeout:  types.DefaultTimeout,
		NumTries: types.DefaultNumTries,
		Mode:     types.ModeOctet,
	}
}

type Request struct {
	Direction transfer.Direction
	Filename  string
	// Mode defaults to the client's mode.
	Mode string
	// Options replace the ones derived from the client configuration when set.
	Options types.Options
	// Sink receives the file on a read, Source supplies it on a write.
	Sink   io.Writer
	Source io.Reader
	// Size of Source, announced with tsize when known; negative otherwise.
	Size int64
}

type Result struct {
	Bytes       int64
	Blocks      int
	Retransmits int
	BlockSize   int
	Options     types.Options
	// TransferSize is the size the server announced, if any.
	TransferSize    int64
	HasTransferSize bool
	Duration        time.Duration
}

type Client struct {
	server net.Addr
	cfg    Config
	l      *zap.SugaredLogger
	listen func(ctx context.Context) (transport.Conn, error)
}

// New resolves server ("host" or "host:port", port 69 by default).
func New(server string, cfg Config, l *zap.SugaredLogger) (*Client, error) {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, types.DefaultPort)
	}

	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("error while resolving %s: %w", server, err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = types.DefaultTimeout
	}

	if cfg.NumTries <= 0 {
		cfg.NumTries = types.DefaultNumTries
	}

	if cfg.Mode == "" {
		cfg.Mode = types.ModeOctet
	}

	if l == nil {
		l = zap.NewNop().Sugar()
	}

	return &Client{
		server: addr,
		cfg:    cfg,
		l:      l,
		listen: func(ctx context.Context) (transport.Conn, error) {
			return transport.Listen(ctx, ":0", false)
		},
	}, nil
}

func (c *Client) Server() net.Addr {
	return c.server
}

// Get downloads filename into w.
func (c *Client) Get(ctx context.Context, filename string, w io.Writer) (*Result, error) {
	return c.Transfer(ctx, Request{Direction: transfer.DirectionRead, Filename: filename, Sink: w})
}

// Put uploads r as filename; size is announced with tsize when known.
func (c *Client) Put(ctx context.Context, filename string, r io.Reader, size int64) (*Result, error) {
	return c.Transfer(ctx, Request{Direction: transfer.DirectionWrite, Filename: filename, Source: r, Size: size})
}

// Transfer runs one transfer on a fresh local port. A failed transfer returns
// a *transfer.Error.
func (c *Client) Transfer(ctx context.Context, req Request) (*Result, error) {
	mode := req.Mode
	if mode == "" {
		mode = c.cfg.Mode
	}

	if !types.ValidMode(mode) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidMode, mode)
	}

	mode = strings.ToLower(mode)
	text := mode != types.ModeOctet

	opts := req.Options
	if opts == nil {
		opts = c.options(req, text)
	}

	switch {
	case req.Direction == transfer.DirectionRead && req.Sink == nil:
		return nil, errors.New("error: read without a sink")
	case req.Direction == transfer.DirectionWrite && req.Source == nil:
		return nil, errors.New("error: write without a source")
	}

	sess, err := transfer.NewClient(transfer.ClientConfig{
		Direction:  req.Direction,
		Filename:   req.Filename,
		Mode:       mode,
		Options:    opts,
		Timeout:    c.cfg.Timeout,
		MaxRetries: c.cfg.NumTries,
	})
	if err != nil {
		return nil, err
	}

	conn, err := c.listen(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := conn.Close(); err != nil {
			c.l.Errorf("error while closing connection: %s", err.Error())
		}
	}()

	src, dst := req.Source, req.Sink

	var decoder io.WriteCloser

	if text {
		if src != nil {
			src = netascii.NewEncoder(src)
		}

		if dst != nil {
			decoder = netascii.NewDecoder(dst)
			dst = decoder
		}
	}

	l := c.l.With("server", c.server.String(), "file", req.Filename, "op", req.Direction.String())

	stats, err := driver.Run(ctx, driver.Params{
		Session: sess,
		Conn:    conn,
		Peer:    c.server,
		Bind:    true,
		Source:  src,
		Sink:    dst,
		Logger:  l,
		Trace:   c.cfg.Trace,
	})
	if err != nil {
		return nil, err
	}

	if decoder != nil {
		if err := decoder.Close(); err != nil {
			return nil, fmt.Errorf("error while flushing %s: %w", req.Filename, err)
		}
	}

	l.Debugf("%d blocks, %d bytes, %d retransmissions", stats.Blocks, stats.Bytes, stats.Retransmits)

	return &Result{
		Bytes:           stats.Bytes,
		Blocks:          stats.Blocks,
		Retransmits:     stats.Retransmits,
		BlockSize:       stats.BlockSize,
		Options:         stats.Options,
		TransferSize:    stats.TransferSize,
		HasTransferSize: stats.HasTSize,
		Duration:        stats.Duration,
	}, nil
}

// options lists only what differs from the protocol defaults.
func (c *Client) options(req Request, text bool) types.Options {
	var opts types.Options

	if c.cfg.BlockSize != 0 && c.cfg.BlockSize != types.DefaultBlockSize {
		opts = opts.Set(types.OptionBlockSize, strconv.Itoa(c.cfg.BlockSize))
	}

	if c.cfg.Timeout != types.DefaultTimeout && c.cfg.Timeout%time.Second == 0 {
		if secs := int64(c.cfg.Timeout / time.Second); secs >= types.MinTimeout && secs <= types.MaxTimeout {
			opts = opts.Set(types.OptionTimeout, strconv.FormatInt(secs, 10))
		}
	}

	if c.cfg.TSize && !text {
		switch {
		case req.Direction == transfer.DirectionRead:
			opts = opts.Set(types.OptionTransferSize, "0")
		case req.Size >= 0:
			opts = opts.Set(types.OptionTransferSize, strconv.FormatInt(req.Size, 10))
		}
	}

	return opts
}
