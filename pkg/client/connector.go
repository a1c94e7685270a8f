package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Wa4h1h/gotftp/pkg/types"
	"github.com/Wa4h1h/gotftp/pkg/utils"
)

// Connector is the stateful client behind the interactive shell. Files are read
// from and written to a local directory.
type Connector interface {
	Connect(addr string) error
	Get(ctx context.Context, filename string) error
	Put(ctx context.Context, filename string) error
	SetTimeout(timeout uint)
	SetTrace()
	SetMode(mode string) error
	SetBlockSize(size int) error
	Close() error
}

type FileClient struct {
	mu     sync.Mutex
	dir    string
	cfg    Config
	l      *zap.SugaredLogger
	out    io.Writer
	client *Client
}

func NewFileClient(dir string, cfg Config, l *zap.SugaredLogger, out io.Writer) *FileClient {
	if l == nil {
		l = zap.NewNop().Sugar()
	}

	return &FileClient{dir: dir, cfg: cfg, l: l, out: out}
}

func (f *FileClient) Connect(addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, err := New(addr, f.cfg, f.l)
	if err != nil {
		return err
	}

	f.client = c

	return nil
}

// current returns a client carrying the latest settings.
func (f *FileClient) current() (*Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		return nil, utils.ErrNotConnected
	}

	c := *f.client
	c.cfg = f.cfg

	return &c, nil
}

func (f *FileClient) Get(ctx context.Context, filename string) error {
	c, err := f.current()
	if err != nil {
		return err
	}

	local := filepath.Join(f.dir, filepath.Base(filename))

	tmp, err := os.CreateTemp(f.dir, "."+filepath.Base(filename)+".*.part")
	if err != nil {
		return fmt.Errorf("error while creating %s: %w", local, err)
	}

	res, err := c.Get(ctx, filename, tmp)

	if errClose := tmp.Close(); err == nil && errClose != nil {
		err = fmt.Errorf("error while closing %s: %w", tmp.Name(), errClose)
	}

	if err == nil {
		err = os.Rename(tmp.Name(), local)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return err
	}

	f.report("received", local, res)

	return nil
}

func (f *FileClient) Put(ctx context.Context, filename string) error {
	c, err := f.current()
	if err != nil {
		return err
	}

	local := filename
	if !filepath.IsAbs(local) {
		local = filepath.Join(f.dir, filename)
	}

	file, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("error while opening %s: %w", local, err)
	}

	defer func() {
		if err := file.Close(); err != nil {
			f.l.Errorf("error while closing file: %s", err.Error())
		}
	}()

	size := int64(-1)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	res, err := c.Put(ctx, filepath.Base(filename), file, size)
	if err != nil {
		return err
	}

	f.report("sent", local, res)

	return nil
}

func (f *FileClient) report(verb, local string, res *Result) {
	if f.out == nil {
		return
	}

	fmt.Fprintf(f.out, "%s %s: %d bytes in %s (blksize %d, %d retransmissions)\n",
		verb, local, res.Bytes, res.Duration.Round(time.Millisecond), res.BlockSize, res.Retransmits)
}

func (f *FileClient) SetTimeout(timeout uint) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cfg.Timeout = time.Duration(timeout) * time.Second
}

// SetTrace toggles per-packet logging.
func (f *FileClient) SetTrace() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cfg.Trace = !f.cfg.Trace
}

func (f *FileClient) SetMode(mode string) error {
	if !types.ValidMode(mode) {
		return fmt.Errorf("%w: %q", types.ErrInvalidMode, mode)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.cfg.Mode = mode

	return nil
}

func (f *FileClient) SetBlockSize(size int) error {
	if size != 0 && (size < types.MinBlockSize || size > types.MaxBlockSize) {
		return fmt.Errorf("%w: blksize %d", types.ErrInvalidOption, size)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.cfg.BlockSize = size

	return nil
}

func (f *FileClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.client = nil

	return nil
}
