package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Wa4h1h/gotftp/pkg/types"
)

// InvalidOptionPolicy decides what a server does with a recognized option whose
// value is out of range or not a number.
type InvalidOptionPolicy int

const (
	IgnoreInvalid InvalidOptionPolicy = iota
	RejectInvalid
	ClampInvalid
)

var ErrUnknownPolicy = errors.New("error: unknown invalid option policy")

func ParseInvalidOptionPolicy(s string) (InvalidOptionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return IgnoreInvalid, nil
	case "reject":
		return RejectInvalid, nil
	case "clamp":
		return ClampInvalid, nil
	default:
		return IgnoreInvalid, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

func (p InvalidOptionPolicy) String() string {
	switch p {
	case RejectInvalid:
		return "reject"
	case ClampInvalid:
		return "clamp"
	default:
		return "ignore"
	}
}

type Policy struct {
	// MaxBlockSize caps the negotiated block size; 0 disables blksize negotiation.
	MaxBlockSize      int
	AllowTimeout      bool
	AllowTransferSize bool
	// MaxTransferSize bounds the size a WRQ may announce; 0 means unbounded.
	MaxTransferSize int64
	InvalidOptions  InvalidOptionPolicy
}

func DefaultPolicy() Policy {
	return Policy{
		MaxBlockSize:      types.MaxBlockSize,
		AllowTimeout:      true,
		AllowTransferSize: true,
	}
}

type ServerConfig struct {
	Request *types.Request
	Policy  Policy
	// FileSize is the size of the file served by an RRQ, negative when unknown.
	FileSize   int64
	Timeout    time.Duration
	MaxRetries int
}

// NewServer creates the session answering req. A request that cannot be served
// still yields a session: its Start sends the ERROR and fails.
func NewServer(cfg ServerConfig) (*Session, error) {
	if cfg.Request == nil {
		return nil, errors.New("error: nil request")
	}

	var dir Direction

	switch cfg.Request.Opcode {
	case types.OpCodeRRQ:
		dir = DirectionRead
	case types.OpCodeWRQ:
		dir = DirectionWrite
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrWrongOpCode, cfg.Request.Opcode)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = types.DefaultTimeout
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = types.DefaultNumTries
	}

	s := &Session{
		role:           RoleServer,
		dir:            dir,
		request:        cfg.Request,
		requested:      cfg.Request.Options.Clone(),
		blockSize:      types.DefaultBlockSize,
		timeout:        cfg.Timeout,
		defaultTimeout: cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		state:          StateTransferring,
	}

	if cfg.Request.TransferMode() == types.ModeMail {
		s.pending = types.NewError(types.ErrIllegalTftpOp, "mail mode is not supported")

		return s, nil
	}

	s.negotiate(cfg.Policy, cfg.FileSize)

	return s, nil
}

func (s *Session) negotiate(p Policy, fileSize int64) {
	var accepted types.Options

	for _, opt := range s.requested {
		n, known, err := types.ParseOption(opt.Name, opt.Value)
		if !known {
			continue
		}

		if err != nil {
			switch p.InvalidOptions {
			case RejectInvalid:
				s.pending = types.NewError(types.ErrOptionNegotiation, "%s", strings.TrimPrefix(err.Error(), "error: "))

				return
			case ClampInvalid:
				var ok bool
				if n, ok = clampOption(opt.Name, opt.Value); !ok {
					continue
				}
			default:
				continue
			}
		}

		switch name := strings.ToLower(opt.Name); name {
		case types.OptionBlockSize:
			if p.MaxBlockSize <= 0 {
				continue
			}

			size := min(int(n), p.MaxBlockSize, types.MaxBlockSize)
			size = max(size, types.MinBlockSize)
			s.blockSize = size
			accepted = append(accepted, types.Option{Name: name, Value: strconv.Itoa(size)})
		case types.OptionTimeout:
			if !p.AllowTimeout {
				continue
			}

			s.timeout = time.Duration(n) * time.Second
			accepted = append(accepted, types.Option{Name: name, Value: strconv.FormatInt(n, 10)})
		case types.OptionTransferSize:
			if !p.AllowTransferSize || s.request.TransferMode() == types.ModeNetASCII {
				continue
			}

			if s.dir == DirectionWrite {
				if p.MaxTransferSize > 0 && n > p.MaxTransferSize {
					s.pending = types.NewError(types.ErrDiskFull,
						"announced size %d exceeds the limit of %d bytes", n, p.MaxTransferSize)

					return
				}

				s.tsize, s.hasTSize = n, true
			} else {
				if fileSize < 0 {
					continue
				}

				s.tsize, s.hasTSize = fileSize, true
			}

			accepted = append(accepted, types.Option{Name: name, Value: strconv.FormatInt(s.tsize, 10)})
		}
	}

	if len(accepted) > 0 {
		s.accepted = accepted
		s.pending = types.NewOAck(accepted)
		s.state = StateNegotiating
	}
}

// clampOption forces a numeric blksize or timeout into its legal range.
func clampOption(name, value string) (int64, bool) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}

	switch strings.ToLower(name) {
	case types.OptionBlockSize:
		return min(max(n, types.MinBlockSize), types.MaxBlockSize), true
	case types.OptionTimeout:
		return min(max(n, types.MinTimeout), types.MaxTimeout), true
	default:
		return 0, false
	}
}

// adopt checks the OACK against what was requested. The server may only narrow
// blksize, must echo timeout and may not add options.
func (s *Session) adopt(oack *types.OAck) []Action {
	blockSize := types.DefaultBlockSize
	timeout := s.defaultTimeout

	var (
		tsize    int64
		hasTSize bool
	)

	for _, opt := range oack.Options {
		want, ok := s.requested.Get(opt.Name)
		if !ok {
			return s.refuse("server acknowledged option %s that was not requested", opt.Name)
		}

		n, known, err := types.ParseOption(opt.Name, opt.Value)
		if err != nil {
			return s.refuse("%s", strings.TrimPrefix(err.Error(), "error: "))
		}

		if !known {
			return s.refuse("option %s is not supported", opt.Name)
		}

		asked, _, _ := types.ParseOption(opt.Name, want)

		switch strings.ToLower(opt.Name) {
		case types.OptionBlockSize:
			if n > asked {
				return s.refuse("blksize %d is larger than the requested %d", n, asked)
			}

			blockSize = int(n)
		case types.OptionTimeout:
			if n != asked {
				return s.refuse("timeout %d differs from the requested %d", n, asked)
			}

			timeout = time.Duration(n) * time.Second
		case types.OptionTransferSize:
			tsize, hasTSize = n, true
		}
	}

	s.blockSize = blockSize
	s.timeout = timeout
	s.tsize, s.hasTSize = tsize, hasTSize
	s.accepted = oack.Options.Clone()
	s.state = StateTransferring
	s.retries = 0

	if s.sending() {
		return s.nextBlock()
	}

	return s.send(&types.Ack{BlockNum: 0}, false)
}

func (s *Session) refuse(format string, args ...any) []Action {
	return s.fail(KindProtocol, types.ErrOptionNegotiation, fmt.Sprintf(format, args...), nil, true)
}

func (s *Session) restoreDefaults() {
	s.blockSize = types.DefaultBlockSize
	s.timeout = s.defaultTimeout
	s.tsize, s.hasTSize = 0, false
	s.accepted = nil
}
