package client

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Wa4h1h/gotftp/pkg/utils"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		line string
		call string
		done bool
		err  error
	}{
		{line: "connect 10.0.0.1", call: "connect 10.0.0.1"},
		{line: "connect 10.0.0.1 6969", call: "connect 10.0.0.1:6969"},
		{line: "connect ::1 69", call: "connect [::1]:69"},
		{line: "  get pxelinux.0  ", call: "get pxelinux.0"},
		{line: "timeout 4", call: "timeout 4"},
		{line: "mode NETASCII", call: "mode netascii"},
		{line: "blksize 1428", call: "blksize 1428"},
		{line: "trace", call: "trace"},
		{line: "quit", done: true},
		{line: ""},
		{line: "get", err: utils.ErrUnknownCommand},
		{line: "delete file", err: utils.ErrUnknownCommand},
	}

	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			fake := &fakeConnector{}
			e := NewEvaluator(zap.NewNop().Sugar(), fake, &bytes.Buffer{})

			done, err := e.evaluate(context.Background(), tc.line)
			assert.Equal(t, tc.done, done)

			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Empty(t, fake.calls)

				return
			}

			require.NoError(t, err)

			if tc.call == "" {
				assert.Empty(t, fake.calls)
			} else {
				assert.Equal(t, []string{tc.call}, fake.calls)
			}
		})
	}
}

func TestEvaluateTimeoutRange(t *testing.T) {
	fake := &fakeConnector{}
	e := NewEvaluator(zap.NewNop().Sugar(), fake, &bytes.Buffer{})

	_, err := e.evaluate(context.Background(), "timeout 0")
	assert.Error(t, err)

	_, err = e.evaluate(context.Background(), "timeout 256")
	assert.Error(t, err)
	assert.Empty(t, fake.calls)
}

func TestCliRead(t *testing.T) {
	fake := &fakeConnector{}
	in := strings.NewReader("connect localhost\nput a.txt\nbogus\nhelp\nquit\nget never\n")

	var out bytes.Buffer

	cli := NewCli(zap.NewNop().Sugar(), fake, in, &out)
	require.NoError(t, cli.Read(context.Background()))

	assert.Equal(t, []string{"connect localhost", "put a.txt"}, fake.calls)
	assert.Contains(t, out.String(), "put failed")
	assert.Contains(t, out.String(), "unknown command: bogus")
	assert.Contains(t, out.String(), "connect <host> [port]")
	assert.Equal(t, 5, strings.Count(out.String(), "tftp> "))
}
