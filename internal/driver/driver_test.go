package driver

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Wa4h1h/gotftp/pkg/transfer"
	"github.com/Wa4h1h/gotftp/pkg/types"
)

func payload(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

func decode(t *testing.T, d datagram) types.Packet {
	t.Helper()

	p, err := types.Decode(d.b)
	require.NoError(t, err)

	return p
}

func send(t *testing.T, from *memConn, to *memConn, p types.Packet) {
	t.Helper()

	b, err := types.Encode(p)
	require.NoError(t, err)
	require.NoError(t, from.Send(b, to.addr))
}

// serve answers one request arriving on listener from a fresh transfer conn.
func serve(t *testing.T, listener, conn *memConn, policy transfer.Policy, file []byte, sink io.Writer) <-chan error {
	t.Helper()

	done := make(chan error, 1)

	go func() {
		d, ok := listener.next()
		if !ok {
			done <- errors.New("no request")

			return
		}

		p, err := types.Decode(d.b)
		if err != nil {
			done <- err

			return
		}

		sess, err := transfer.NewServer(transfer.ServerConfig{
			Request:  p.(*types.Request),
			Policy:   policy,
			FileSize: int64(len(file)),
			Timeout:  20 * time.Millisecond,
		})
		if err != nil {
			done <- err

			return
		}

		_, err = Run(context.Background(), Params{
			Session: sess,
			Conn:    conn,
			Peer:    d.from,
			Source:  bytes.NewReader(file),
			Sink:    sink,
		})
		done <- err
	}()

	return done
}

func client(t *testing.T, dir transfer.Direction, opts types.Options) *transfer.Session {
	t.Helper()

	return clientWithTimeout(t, dir, opts, 20*time.Millisecond)
}

func clientWithTimeout(t *testing.T, dir transfer.Direction, opts types.Options, timeout time.Duration) *transfer.Session {
	t.Helper()

	s, err := transfer.NewClient(transfer.ClientConfig{
		Direction: dir,
		Filename:  "file.bin",
		Options:   opts,
		Timeout:   timeout,
	})
	require.NoError(t, err)

	return s
}

func TestReadThreeBlocks(t *testing.T) {
	n := newMemNet()
	cl, listener, srv := n.conn("10.0.0.1:5000"), n.conn("10.0.0.2:69"), n.conn("10.0.0.2:7000")
	file := payload(t, 1500)

	done := serve(t, listener, srv, transfer.DefaultPolicy(), file, io.Discard)

	var got bytes.Buffer

	stats, err := Run(context.Background(), Params{
		Session: client(t, transfer.DirectionRead, nil),
		Conn:    cl,
		Peer:    listener.addr,
		Bind:    true,
		Sink:    &got,
		Logger:  zaptest.NewLogger(t).Sugar(),
		Trace:   true,
	})
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, file, got.Bytes())
	assert.Equal(t, 3, stats.Blocks)
	assert.EqualValues(t, 1500, stats.Bytes)
	assert.Equal(t, srv.addr.String(), stats.Peer.String())
}

func TestWriteWithNegotiation(t *testing.T) {
	n := newMemNet()
	cl, listener, srv := n.conn("10.0.0.1:5000"), n.conn("10.0.0.2:69"), n.conn("10.0.0.2:7000")
	file := payload(t, 4000)

	policy := transfer.DefaultPolicy()
	policy.MaxBlockSize = 800

	var stored bytes.Buffer
	done := serve(t, listener, srv, policy, nil, &stored)

	stats, err := Run(context.Background(), Params{
		Session: client(t, transfer.DirectionWrite, types.Options{{Name: "blksize", Value: "1024"}, {Name: "tsize", Value: "4000"}}),
		Conn:    cl,
		Peer:    listener.addr,
		Bind:    true,
		Source:  bytes.NewReader(file),
	})
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, file, stored.Bytes())
	assert.Equal(t, 800, stats.BlockSize)
	assert.Equal(t, 6, stats.Blocks)
	assert.Equal(t, types.Options{{Name: "blksize", Value: "800"}, {Name: "tsize", Value: "4000"}}, stats.Options)
}

func TestLossyLinkRetransmits(t *testing.T) {
	n := newMemNet()
	cl, listener, srv := n.conn("10.0.0.1:5000"), n.conn("10.0.0.2:69"), n.conn("10.0.0.2:7000")
	file := payload(t, 5000)

	// lose every third datagram in both directions
	lossy := func() func([]byte) bool {
		count := 0

		return func([]byte) bool {
			count++

			return count%3 == 0
		}
	}

	srv.drop = lossy()
	cl.drop = lossy()

	done := serve(t, listener, srv, transfer.DefaultPolicy(), file, io.Discard)

	var got bytes.Buffer

	stats, err := Run(context.Background(), Params{
		Session: client(t, transfer.DirectionRead, nil),
		Conn:    cl,
		Peer:    listener.addr,
		Bind:    true,
		Sink:    &got,
	})
	require.NoError(t, err)

	// the server may still be waiting on the final ack that was lost
	<-done

	assert.Equal(t, file, got.Bytes())
	assert.Positive(t, stats.Retransmits)
}

func TestUnknownTransferID(t *testing.T) {
	n := newMemNet()
	cl, listener := n.conn("10.0.0.1:5000"), n.conn("10.0.0.2:69")
	srv, imposter := n.conn("10.0.0.2:7000"), n.conn("10.0.0.2:7001")
	stranger := n.conn("10.0.0.9:69")

	var got bytes.Buffer

	sess := clientWithTimeout(t, transfer.DirectionRead, nil, time.Second)
	result := make(chan error, 1)

	go func() {
		_, err := Run(context.Background(), Params{
			Session: sess,
			Conn:    cl,
			Peer:    listener.addr,
			Bind:    true,
			Sink:    &got,
		})
		result <- err
	}()

	d, ok := listener.next()
	require.True(t, ok)
	require.IsType(t, &types.Request{}, decode(t, d))

	// a reply from another host never binds the session
	send(t, stranger, cl, &types.Data{BlockNum: 1, Payload: []byte("evil")})
	d, ok = stranger.next()
	require.True(t, ok)
	assert.Equal(t, types.ErrUnknownTransferId, decode(t, d).(*types.Error).ErrorCode)

	first := payload(t, 512)
	send(t, srv, cl, &types.Data{BlockNum: 1, Payload: first})
	d, ok = srv.next()
	require.True(t, ok)
	assert.Equal(t, &types.Ack{BlockNum: 1}, decode(t, d))

	// same host, other port, after binding
	send(t, imposter, cl, &types.Data{BlockNum: 2, Payload: []byte("evil")})
	d, ok = imposter.next()
	require.True(t, ok)
	assert.Equal(t, types.ErrUnknownTransferId, decode(t, d).(*types.Error).ErrorCode)

	send(t, srv, cl, &types.Data{BlockNum: 2, Payload: []byte("tail")})
	d, ok = srv.next()
	require.True(t, ok)
	assert.Equal(t, &types.Ack{BlockNum: 2}, decode(t, d))

	require.NoError(t, <-result)
	assert.Equal(t, append(first, "tail"...), got.Bytes())
}

func TestRetryExhaustion(t *testing.T) {
	n := newMemNet()
	cl, listener := n.conn("10.0.0.1:5000"), n.conn("10.0.0.2:69")

	sess, err := transfer.NewClient(transfer.ClientConfig{
		Direction:  transfer.DirectionRead,
		Filename:   "f",
		Timeout:    5 * time.Millisecond,
		MaxRetries: 2,
	})
	require.NoError(t, err)

	_, err = Run(context.Background(), Params{Session: sess, Conn: cl, Peer: listener.addr, Bind: true, Sink: io.Discard})
	assert.ErrorIs(t, err, transfer.ErrTimeout)
	assert.Equal(t, 3, cl.sends())
	assert.Len(t, listener.inbox, 3)
}

func TestCancelNotifiesPeer(t *testing.T) {
	n := newMemNet()
	cl, listener := n.conn("10.0.0.1:5000"), n.conn("10.0.0.2:69")

	ctx, cancel := context.WithCancel(context.Background())

	sess, err := transfer.NewClient(transfer.ClientConfig{Direction: transfer.DirectionRead, Filename: "f", Timeout: time.Minute})
	require.NoError(t, err)

	result := make(chan error, 1)

	go func() {
		_, err := Run(ctx, Params{Session: sess, Conn: cl, Peer: listener.addr, Bind: true, Sink: io.Discard})
		result <- err
	}()

	_, ok := listener.next()
	require.True(t, ok)
	cancel()

	assert.ErrorIs(t, <-result, transfer.ErrCancelled)

	d, ok := listener.next()
	require.True(t, ok)
	assert.IsType(t, &types.Error{}, decode(t, d))
}

type fullDisk struct{}

func (fullDisk) Write([]byte) (int, error) {
	return 0, fmt.Errorf("error while writing: %w", syscall.ENOSPC)
}

func TestSinkFailureReportsDiskFull(t *testing.T) {
	n := newMemNet()
	cl, listener, srv := n.conn("10.0.0.1:5000"), n.conn("10.0.0.2:69"), n.conn("10.0.0.2:7000")

	sess := clientWithTimeout(t, transfer.DirectionRead, nil, time.Second)
	result := make(chan error, 1)

	go func() {
		_, err := Run(context.Background(), Params{
			Session: sess,
			Conn:    cl,
			Peer:    listener.addr,
			Bind:    true,
			Sink:    fullDisk{},
		})
		result <- err
	}()

	_, ok := listener.next()
	require.True(t, ok)

	send(t, srv, cl, &types.Data{BlockNum: 1, Payload: []byte("x")})

	d, ok := srv.next()
	require.True(t, ok)
	assert.Equal(t, types.ErrDiskFull, decode(t, d).(*types.Error).ErrorCode)

	err := <-result
	assert.ErrorIs(t, err, transfer.ErrIO)
	assert.ErrorIs(t, err, syscall.ENOSPC)
}
