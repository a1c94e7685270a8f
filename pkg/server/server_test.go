package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Wa4h1h/gotftp/pkg/client"
	"github.com/Wa4h1h/gotftp/pkg/metrics"
	"github.com/Wa4h1h/gotftp/pkg/transfer"
	"github.com/Wa4h1h/gotftp/pkg/transport"
	"github.com/Wa4h1h/gotftp/pkg/types"
	"github.com/Wa4h1h/gotftp/pkg/utils"
)

type fixture struct {
	srv  *Server
	root string
	addr string
	udp  net.Addr
}

func start(t *testing.T, configure func(*Config)) *fixture {
	t.Helper()

	cfg := Config{
		Root:       t.TempDir(),
		Policy:     transfer.DefaultPolicy(),
		Timeout:    200 * time.Millisecond,
		NumTries:   3,
		AllowWrite: true,
	}

	if configure != nil {
		configure(&cfg)
	}

	srv, err := New(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	conn, err := transport.Listen(context.Background(), "127.0.0.1:0", false)
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		done <- srv.Serve(conn)
	}()

	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
		assert.ErrorIs(t, <-done, utils.ErrServerClosed)
	})

	return &fixture{srv: srv, root: cfg.Root, addr: conn.LocalAddr().String(), udp: conn.LocalAddr()}
}

func (f *fixture) client(t *testing.T, configure func(*client.Config)) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	cfg.NumTries = 3

	if configure != nil {
		configure(&cfg)
	}

	c, err := client.New(f.addr, cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	return c
}

func (f *fixture) write(t *testing.T, name string, content []byte) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(f.root, name), content, 0o644))
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}

	return b
}

func remoteCode(t *testing.T, err error) types.ErrCode {
	t.Helper()

	var terr *transfer.Error
	require.True(t, errors.As(err, &terr), "want *transfer.Error, got %v", err)
	assert.Equal(t, transfer.KindRemote, terr.Kind)

	return terr.Code
}

func TestGetFile(t *testing.T) {
	f := start(t, nil)
	content := payload(1500)
	f.write(t, "boot.img", content)

	var buf bytes.Buffer
	res, err := f.client(t, nil).Get(context.Background(), "boot.img", &buf)
	require.NoError(t, err)

	assert.Equal(t, content, buf.Bytes())
	assert.Equal(t, 3, res.Blocks)
	assert.EqualValues(t, 1500, res.Bytes)
	assert.Equal(t, types.DefaultBlockSize, res.BlockSize)
}

func TestGetBlockSizeMultiple(t *testing.T) {
	f := start(t, nil)
	f.write(t, "even.bin", payload(1024))

	var buf bytes.Buffer
	res, err := f.client(t, nil).Get(context.Background(), "even.bin", &buf)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Blocks)
	assert.Len(t, buf.Bytes(), 1024)
}

func TestGetNegotiatesOptions(t *testing.T) {
	f := start(t, func(c *Config) { c.Policy.MaxBlockSize = 800 })
	content := payload(5000)
	f.write(t, "kernel", content)

	c := f.client(t, func(c *client.Config) {
		c.BlockSize = 1024
		c.TSize = true
	})

	var buf bytes.Buffer
	res, err := c.Get(context.Background(), "kernel", &buf)
	require.NoError(t, err)

	assert.Equal(t, content, buf.Bytes())
	assert.Equal(t, 800, res.BlockSize)
	assert.Equal(t, 7, res.Blocks)
	assert.True(t, res.HasTransferSize)
	assert.EqualValues(t, 5000, res.TransferSize)

	v, ok := res.Options.Get(types.OptionBlockSize)
	assert.True(t, ok)
	assert.Equal(t, "800", v)
}

func TestGetWithoutNegotiation(t *testing.T) {
	f := start(t, func(c *Config) {
		c.Policy.MaxBlockSize = 0
		c.Policy.AllowTransferSize = false
	})
	f.write(t, "plain", payload(700))

	c := f.client(t, func(c *client.Config) {
		c.BlockSize = 1024
		c.TSize = true
	})

	var buf bytes.Buffer
	res, err := c.Get(context.Background(), "plain", &buf)
	require.NoError(t, err)

	assert.Equal(t, types.DefaultBlockSize, res.BlockSize)
	assert.Equal(t, 2, res.Blocks)
	assert.False(t, res.HasTransferSize)
}

func TestGetErrors(t *testing.T) {
	f := start(t, nil)
	require.NoError(t, os.Mkdir(filepath.Join(f.root, "dir"), 0o755))

	cases := map[string]types.ErrCode{
		"missing":      types.ErrFileNotFound,
		"../outside":   types.ErrAccessViolation,
		"a/../../b":    types.ErrAccessViolation,
		"dir":          types.ErrAccessViolation,
		"nested/empty": types.ErrFileNotFound,
	}

	for name, code := range cases {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := f.client(t, nil).Get(context.Background(), name, &buf)
			require.Error(t, err)
			assert.Equal(t, code, remoteCode(t, err))
			assert.Zero(t, buf.Len())
		})
	}
}

func TestGetRefusesSymlinkOutOfRoot(t *testing.T) {
	f := start(t, nil)
	outside := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(f.root, "link")))

	_, err := f.client(t, nil).Get(context.Background(), "link", &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, types.ErrAccessViolation, remoteCode(t, err))
}

func TestPutFile(t *testing.T) {
	f := start(t, nil)
	content := payload(2049)
	c := f.client(t, func(c *client.Config) { c.TSize = true })

	res, err := c.Put(context.Background(), "upload.bin", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Blocks)

	got, err := os.ReadFile(filepath.Join(f.root, "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = c.Put(context.Background(), "upload.bin", bytes.NewReader([]byte("again")), 5)
	require.Error(t, err)
	assert.Equal(t, types.ErrFileAlreadyExists, remoteCode(t, err))

	got, err = os.ReadFile(filepath.Join(f.root, "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPutOverwrite(t *testing.T) {
	f := start(t, func(c *Config) { c.Overwrite = true })
	f.write(t, "config.txt", []byte("old contents"))

	_, err := f.client(t, nil).Put(context.Background(), "config.txt", bytes.NewReader([]byte("new")), 3)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(f.root, "config.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))

	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPutOutsideRoot(t *testing.T) {
	f := start(t, nil)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(f.root, "escape")))

	cases := map[string]string{
		"../escape.bin":     filepath.Join(filepath.Dir(f.root), "escape.bin"),
		"a/../../b":         filepath.Join(filepath.Dir(f.root), "b"),
		"escape/escape.bin": filepath.Join(outside, "escape.bin"),
	}

	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.client(t, nil).Put(context.Background(), name, bytes.NewReader([]byte("payload")), 7)
			require.Error(t, err)
			assert.Equal(t, types.ErrAccessViolation, remoteCode(t, err))

			_, statErr := os.Stat(target)
			assert.True(t, os.IsNotExist(statErr), "%s was created", target)
		})
	}

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPutWritesDisabled(t *testing.T) {
	f := start(t, func(c *Config) { c.AllowWrite = false })

	_, err := f.client(t, nil).Put(context.Background(), "x", bytes.NewReader([]byte("x")), 1)
	require.Error(t, err)
	assert.Equal(t, types.ErrAccessViolation, remoteCode(t, err))

	_, statErr := os.Stat(filepath.Join(f.root, "x"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPutSizeLimit(t *testing.T) {
	f := start(t, func(c *Config) { c.Policy.MaxTransferSize = 1000 })
	content := payload(1500)

	t.Run("announced", func(t *testing.T) {
		c := f.client(t, func(c *client.Config) { c.TSize = true })

		_, err := c.Put(context.Background(), "big1", bytes.NewReader(content), int64(len(content)))
		require.Error(t, err)
		assert.Equal(t, types.ErrDiskFull, remoteCode(t, err))
	})

	t.Run("unannounced", func(t *testing.T) {
		_, err := f.client(t, nil).Put(context.Background(), "big2", bytes.NewReader(content), -1)
		require.Error(t, err)
		assert.Equal(t, types.ErrDiskFull, remoteCode(t, err))

		// the server removes the partial upload once its session ends
		assert.Eventually(t, func() bool {
			_, err := os.Stat(filepath.Join(f.root, "big2"))

			return os.IsNotExist(err)
		}, time.Second, 10*time.Millisecond)
	})
}

func TestNetASCIIRoundTrip(t *testing.T) {
	f := start(t, nil)
	c := f.client(t, func(c *client.Config) { c.Mode = types.ModeNetASCII })
	text := []byte("first line\nsecond\rline\n")

	_, err := c.Put(context.Background(), "notes.txt", bytes.NewReader(text), -1)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(f.root, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, text, got)

	var buf bytes.Buffer
	_, err = c.Get(context.Background(), "notes.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, text, buf.Bytes())
}

func TestMailModeRefused(t *testing.T) {
	f := start(t, nil)
	f.write(t, "inbox", []byte("mail"))

	_, err := f.client(t, nil).Transfer(context.Background(), client.Request{
		Direction: transfer.DirectionRead,
		Filename:  "inbox",
		Mode:      types.ModeMail,
		Sink:      &bytes.Buffer{},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrIllegalTftpOp, remoteCode(t, err))
}

func TestMailModeUploadRefusedBeforeOpen(t *testing.T) {
	f := start(t, nil)
	f.write(t, "inbox", []byte("kept"))

	_, err := f.client(t, nil).Transfer(context.Background(), client.Request{
		Direction: transfer.DirectionWrite,
		Filename:  "inbox",
		Mode:      types.ModeMail,
		Source:    bytes.NewReader([]byte("replaced")),
		Size:      -1,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrIllegalTftpOp, remoteCode(t, err))

	got, err := os.ReadFile(filepath.Join(f.root, "inbox"))
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
}

func TestConcurrentTransfers(t *testing.T) {
	f := start(t, nil)
	content := payload(4000)
	f.write(t, "shared", content)

	errs := make(chan error, 8)

	for i := 0; i < 8; i++ {
		c := f.client(t, nil)

		go func() {
			var buf bytes.Buffer

			_, err := c.Get(context.Background(), "shared", &buf)
			if err == nil && !bytes.Equal(buf.Bytes(), content) {
				err = errors.New("content mismatch")
			}

			errs <- err
		}()
	}

	for i := 0; i < 8; i++ {
		assert.NoError(t, <-errs)
	}
}

func probe(t *testing.T) *transport.UDPConn {
	t.Helper()

	conn, err := transport.Listen(context.Background(), "127.0.0.1:0", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func receive(t *testing.T, conn transport.Conn) types.Packet {
	t.Helper()

	buf := make([]byte, types.DatagramSize)
	n, _, err := conn.Receive(context.Background(), buf, 2*time.Second)
	require.NoError(t, err)

	p, err := types.Decode(buf[:n])
	require.NoError(t, err)

	return p
}

func TestListeningPortRejectsStrayPackets(t *testing.T) {
	reg := metrics.NewCollector("test")
	f := start(t, func(c *Config) { c.Metrics = reg })

	srvAddr := f.udp
	conn := probe(t)

	cases := []struct {
		name string
		raw  []byte
		code types.ErrCode
	}{
		{"ack", []byte{0, 4, 0, 1}, types.ErrUnknownTransferId},
		{"unknown opcode", []byte{0, 9, 1, 2}, types.ErrIllegalTftpOp},
		{"truncated request", []byte("\x00\x01file"), types.ErrNotDefined},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, conn.Send(tc.raw, srvAddr))

			p := receive(t, conn)
			e, ok := p.(*types.Error)
			require.True(t, ok, "want ERROR, got %s", p.Type())
			assert.Equal(t, tc.code, e.ErrorCode)
		})
	}
}

func TestStrangerGetsUnknownTransferID(t *testing.T) {
	f := start(t, func(c *Config) { c.Timeout = time.Second })
	f.write(t, "file", payload(1200))

	srvAddr := f.udp
	owner, stranger := probe(t), probe(t)

	rrq, err := types.Encode(types.NewRequest(types.OpCodeRRQ, "file", types.ModeOctet, nil))
	require.NoError(t, err)
	require.NoError(t, owner.Send(rrq, srvAddr))

	buf := make([]byte, types.DatagramSize)
	n, tid, err := owner.Receive(context.Background(), buf, 2*time.Second)
	require.NoError(t, err)

	p, err := types.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, types.OpCodeDATA, p.Type())

	ack, err := types.Encode(&types.Ack{BlockNum: 1})
	require.NoError(t, err)
	require.NoError(t, stranger.Send(ack, tid))

	e, ok := receive(t, stranger).(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrUnknownTransferId, e.ErrorCode)

	// the transfer with the owner carries on
	require.NoError(t, owner.Send(ack, tid))

	d, ok := receive(t, owner).(*types.Data)
	require.True(t, ok)
	assert.EqualValues(t, 2, d.BlockNum)
}

func TestCloseNotifiesPeers(t *testing.T) {
	f := start(t, func(c *Config) {
		c.Timeout = time.Second
		c.NumTries = 10
	})
	f.write(t, "slow", payload(3000))

	srvAddr := f.udp
	conn := probe(t)

	rrq, err := types.Encode(types.NewRequest(types.OpCodeRRQ, "slow", types.ModeOctet, nil))
	require.NoError(t, err)
	require.NoError(t, conn.Send(rrq, srvAddr))

	_, ok := receive(t, conn).(*types.Data)
	require.True(t, ok)

	require.NoError(t, f.srv.Close())

	// a retransmitted DATA may arrive before the ERROR
	for {
		p := receive(t, conn)
		if e, ok := p.(*types.Error); ok {
			assert.Equal(t, types.ErrNotDefined, e.ErrorCode)

			break
		}
	}

	assert.ErrorIs(t, f.srv.Serve(probe(t)), utils.ErrServerClosed)
}
