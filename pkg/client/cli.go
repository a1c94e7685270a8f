package client

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

type Cli struct {
	l          *zap.SugaredLogger
	tftpClient Connector
	in         io.Reader
	out        io.Writer
}

func NewCli(l *zap.SugaredLogger, tftpClient Connector, in io.Reader, out io.Writer) *Cli {
	return &Cli{l: l, tftpClient: tftpClient, in: in, out: out}
}

// Read runs the prompt until quit, end of input or ctx is done.
func (c *Cli) Read(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	evaluator := NewEvaluator(c.l, c.tftpClient, c.out)

	fmt.Fprint(c.out, "tftp> ")

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}

		done, err := evaluator.evaluate(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(c.out, "%s\n", err.Error())
		}

		if done {
			break
		}

		fmt.Fprint(c.out, "tftp> ")
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error while reading input: %w", err)
	}

	return nil
}
