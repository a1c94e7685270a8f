package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Wa4h1h/gotftp/pkg/utils"
)

var (
	getRegex     = "^get\\s+(\\S+)$"
	putRegex     = "^put\\s+(\\S+)$"
	timeoutRegex = "^timeout\\s+(\\d+)$"
	connectRegex = "^connect\\s+(\\S+)(?:\\s+(\\d+))?$"
	modeRegex    = "^mode\\s+(\\S+)$"
	blksizeRegex = "^blksize\\s+(\\d+)$"
	traceRegex   = "^trace$"
	quitRegex    = "^quit$"
	helpRegex    = "^help$"
)

const help = `Commands:
	connect <host> [port]
	get <file>
	put <file>
	mode <octet|netascii>
	blksize <integer> (0 disables negotiation)
	timeout <integer>
	trace
	quit`

type Evaluator struct {
	l             *zap.SugaredLogger
	client        Connector
	out           io.Writer
	regexPatterns map[string]*regexp.Regexp
}

func NewEvaluator(l *zap.SugaredLogger, client Connector, out io.Writer) *Evaluator {
	e := &Evaluator{
		l:      l,
		client: client,
		out:    out,
	}

	e.regexPatterns = make(map[string]*regexp.Regexp)

	e.regexPatterns["get"] = regexp.MustCompile(getRegex)
	e.regexPatterns["put"] = regexp.MustCompile(putRegex)
	e.regexPatterns["timeout"] = regexp.MustCompile(timeoutRegex)
	e.regexPatterns["connect"] = regexp.MustCompile(connectRegex)
	e.regexPatterns["mode"] = regexp.MustCompile(modeRegex)
	e.regexPatterns["blksize"] = regexp.MustCompile(blksizeRegex)
	e.regexPatterns["trace"] = regexp.MustCompile(traceRegex)
	e.regexPatterns["quit"] = regexp.MustCompile(quitRegex)
	e.regexPatterns["help"] = regexp.MustCompile(helpRegex)

	return e
}

// evaluate runs one command line and reports whether the shell should exit.
func (e *Evaluator) evaluate(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)

	if line == "" {
		return false, nil
	}

	if matches := e.regexPatterns["get"].FindStringSubmatch(line); len(matches) == 2 {
		return false, e.client.Get(ctx, matches[1])
	}

	if matches := e.regexPatterns["put"].FindStringSubmatch(line); len(matches) == 2 {
		return false, e.client.Put(ctx, matches[1])
	}

	if matches := e.regexPatterns["timeout"].FindStringSubmatch(line); len(matches) == 2 {
		n, err := strconv.ParseUint(matches[1], 10, 8)
		if err != nil || n == 0 {
			return false, fmt.Errorf("timeout value must be between 1 and 255: %s", matches[1])
		}

		e.client.SetTimeout(uint(n))

		return false, nil
	}

	if matches := e.regexPatterns["connect"].FindStringSubmatch(line); len(matches) == 3 {
		addr := matches[1]
		if matches[2] != "" {
			addr = net.JoinHostPort(matches[1], matches[2])
		}

		return false, e.client.Connect(addr)
	}

	if matches := e.regexPatterns["mode"].FindStringSubmatch(line); len(matches) == 2 {
		return false, e.client.SetMode(strings.ToLower(matches[1]))
	}

	if matches := e.regexPatterns["blksize"].FindStringSubmatch(line); len(matches) == 2 {
		n, err := strconv.Atoi(matches[1])
		if err != nil {
			return false, fmt.Errorf("blksize value can not be parsed: %w", err)
		}

		return false, e.client.SetBlockSize(n)
	}

	if e.regexPatterns["trace"].MatchString(line) {
		e.client.SetTrace()

		return false, nil
	}

	if e.regexPatterns["help"].MatchString(line) {
		fmt.Fprintln(e.out, help)

		return false, nil
	}

	if e.regexPatterns["quit"].MatchString(line) {
		return true, nil
	}

	return false, fmt.Errorf("%w: %s", utils.ErrUnknownCommand, line)
}
