package transfer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Wa4h1h/gotftp/pkg/types"
)

type ClientConfig struct {
	Direction Direction
	Filename  string
	Mode      string
	// Options are sent with the request as given; an OACK may only narrow them.
	Options types.Options
	// Timeout is the retransmission interval until a timeout option is acknowledged.
	Timeout    time.Duration
	MaxRetries int
}

type Session struct {
	role  Role
	dir   Direction
	state State
	err   *Error

	request   *types.Request
	requested types.Options
	accepted  types.Options
	pending   types.Packet

	blockSize      int
	timeout        time.Duration
	defaultTimeout time.Duration
	tsize          int64
	hasTSize       bool

	maxRetries int
	retries    int

	// block is the last block acknowledged when receiving and the
	// outstanding block when sending.
	block    uint16
	final    bool
	needData bool
	last     []byte
	lastPkt  types.Packet
	started  bool
	blocks   int
	bytes    int64
	resends  int
}

func NewClient(cfg ClientConfig) (*Session, error) {
	if cfg.Mode == "" {
		cfg.Mode = types.ModeOctet
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = types.DefaultTimeout
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = types.DefaultNumTries
	}

	for _, opt := range cfg.Options {
		if _, _, err := types.ParseOption(opt.Name, opt.Value); err != nil {
			return nil, err
		}
	}

	req := types.NewRequest(cfg.Direction.Opcode(), cfg.Filename, cfg.Mode, cfg.Options.Clone())
	if _, err := req.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("error while building request: %w", err)
	}

	s := &Session{
		role:           RoleClient,
		dir:            cfg.Direction,
		request:        req,
		requested:      req.Options,
		blockSize:      types.DefaultBlockSize,
		timeout:        cfg.Timeout,
		defaultTimeout: cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		state:          StateTransferring,
	}

	if len(req.Options) > 0 {
		s.state = StateNegotiating
	}

	return s, nil
}

func (s *Session) State() State { return s.state }

func (s *Session) Role() Role { return s.role }

func (s *Session) Direction() Direction { return s.dir }

func (s *Session) BlockSize() int { return s.blockSize }

func (s *Session) Timeout() time.Duration { return s.timeout }

func (s *Session) Request() *types.Request { return s.request }

// Options returns the options in force, as acknowledged by the OACK.
func (s *Session) Options() types.Options { return s.accepted.Clone() }

// TransferSize returns the size announced through the tsize option.
func (s *Session) TransferSize() (int64, bool) { return s.tsize, s.hasTSize }

func (s *Session) Done() bool {
	return s.state == StateCompleted || s.state == StateFailed
}

// Err returns the terminal failure, or nil while running or after success.
func (s *Session) Err() error {
	if s.err == nil {
		return nil
	}

	return s.err
}

// Blocks and Bytes count payload accepted (receiving) or acknowledged (sending).
func (s *Session) Blocks() int { return s.blocks }

func (s *Session) Bytes() int64 { return s.bytes }

func (s *Session) Retransmits() int { return s.resends }

func (s *Session) sending() bool {
	return (s.role == RoleClient) == (s.dir == DirectionWrite)
}

// Handle applies ev and returns the actions to execute, in order. A finished
// session ignores every event.
func (s *Session) Handle(ev Event) []Action {
	if s.Done() {
		return nil
	}

	if _, ok := ev.(Start); !ok && !s.started {
		switch ev.(type) {
		case Cancel, LocalFailure:
		default:
			return nil
		}
	}

	switch e := ev.(type) {
	case Start:
		return s.start()
	case Received:
		return s.receive(e.Packet)
	case Malformed:
		return s.malformed(e.Err)
	case Timeout:
		return s.expire()
	case Supply:
		return s.supply(e.Payload)
	case Cancel:
		return s.fail(KindCancelled, types.ErrNotDefined, "transfer cancelled", nil, s.started)
	case LocalFailure:
		msg := "local failure"
		if e.Err != nil {
			msg = e.Err.Error()
		}

		return s.fail(KindIO, e.Code, msg, e.Err, s.started)
	default:
		return nil
	}
}

func (s *Session) start() []Action {
	if s.started {
		return nil
	}

	s.started = true

	if s.role == RoleClient {
		if s.state == StateNegotiating {
			s.state = StateAwaitingOptionAck
		}

		return s.send(s.request, false)
	}

	switch p := s.pending.(type) {
	case *types.Error:
		return s.fail(KindProtocol, p.ErrorCode, p.ErrMsg, nil, true)
	case *types.OAck:
		s.state = StateNegotiating

		return s.send(p, false)
	}

	s.state = StateTransferring

	if s.sending() {
		return s.nextBlock()
	}

	return s.send(&types.Ack{BlockNum: 0}, false)
}

func (s *Session) receive(p types.Packet) []Action {
	if e, ok := p.(*types.Error); ok {
		s.state = StateFailed
		s.err = &Error{Kind: KindRemote, Code: e.ErrorCode, Message: e.ErrMsg}

		return []Action{Finish{Err: s.err}}
	}

	if s.state == StateAwaitingOptionAck {
		if oack, ok := p.(*types.OAck); ok {
			return s.adopt(oack)
		}

		// the server ignored our options
		s.restoreDefaults()
		s.state = StateTransferring
	}

	switch pkt := p.(type) {
	case *types.Data:
		if s.sending() {
			return s.illegal(p)
		}

		return s.onData(pkt)
	case *types.Ack:
		if !s.sending() {
			return s.illegal(p)
		}

		return s.onAck(pkt)
	case *types.OAck:
		if s.role == RoleServer || len(s.requested) == 0 {
			return s.illegal(p)
		}

		// our ACK(0) for the OACK was lost; anything else is stale
		if !s.sending() && s.block == 0 {
			return s.resend()
		}

		return nil
	default:
		return s.illegal(p)
	}
}

func (s *Session) onData(d *types.Data) []Action {
	if d.BlockNum != s.block+1 {
		if _, ok := s.lastPkt.(*types.Ack); ok {
			return s.resend()
		}

		return nil
	}

	if len(d.Payload) > s.blockSize {
		return s.fail(KindProtocol, types.ErrIllegalTftpOp,
			fmt.Sprintf("block %d carries %d bytes, block size is %d", d.BlockNum, len(d.Payload), s.blockSize), nil, true)
	}

	s.state = StateTransferring
	s.block = d.BlockNum
	s.retries = 0
	s.blocks++
	s.bytes += int64(len(d.Payload))

	actions := []Action{Deliver{Payload: d.Payload}}
	actions = append(actions, s.send(&types.Ack{BlockNum: d.BlockNum}, false)...)

	if len(d.Payload) < s.blockSize {
		s.state = StateCompleted
		actions = append(actions, Finish{})
	}

	return actions
}

func (s *Session) onAck(a *types.Ack) []Action {
	if s.needData || a.BlockNum != s.block {
		return nil
	}

	s.state = StateTransferring
	s.retries = 0

	if _, ok := s.lastPkt.(*types.Data); ok {
		s.blocks++
		s.bytes += int64(len(s.lastPkt.(*types.Data).Payload))
	}

	if s.final {
		s.state = StateCompleted

		return []Action{Finish{}}
	}

	s.block++

	return s.nextBlock()
}

func (s *Session) nextBlock() []Action {
	if s.block == 0 && s.blocks == 0 {
		s.block = 1
	}

	s.needData = true

	return []Action{NeedData{Block: s.block, Size: s.blockSize}}
}

func (s *Session) supply(payload []byte) []Action {
	if !s.needData {
		return nil
	}

	if len(payload) > s.blockSize {
		return s.fail(KindIO, types.ErrNotDefined, "source returned an oversized block",
			fmt.Errorf("%d bytes for block size %d", len(payload), s.blockSize), true)
	}

	s.needData = false
	s.final = len(payload) < s.blockSize

	return s.send(&types.Data{BlockNum: s.block, Payload: payload}, false)
}

func (s *Session) expire() []Action {
	if s.needData || s.last == nil {
		return nil
	}

	if s.retries >= s.maxRetries {
		s.state = StateFailed
		s.err = &Error{
			Kind:    KindTimeout,
			Code:    types.ErrNotDefined,
			Message: fmt.Sprintf("no reply after %d retries", s.retries),
		}

		return []Action{Finish{Err: s.err}}
	}

	s.retries++
	s.resends++

	return []Action{Send{Packet: s.lastPkt, Raw: s.last}}
}

func (s *Session) resend() []Action {
	if s.last == nil {
		return nil
	}

	s.resends++

	return []Action{Send{Packet: s.lastPkt, Raw: s.last, KeepTimer: true}}
}

func (s *Session) malformed(err error) []Action {
	code := types.ErrNotDefined
	kind := KindMalformed

	if s.state == StateAwaitingOptionAck && errors.Is(err, types.ErrInvalidOption) {
		code = types.ErrOptionNegotiation
		kind = KindProtocol
	}

	msg := "malformed packet"
	if err != nil {
		msg = err.Error()
	}

	return s.fail(kind, code, msg, err, true)
}

func (s *Session) illegal(p types.Packet) []Action {
	return s.fail(KindProtocol, types.ErrIllegalTftpOp,
		fmt.Sprintf("unexpected %s in state %s", p.Type(), s.state), nil, true)
}

func (s *Session) send(p types.Packet, keepTimer bool) []Action {
	raw, err := types.Encode(p)
	if err != nil {
		if _, isErr := p.(*types.Error); isErr {
			return nil
		}

		return s.fail(KindIO, types.ErrNotDefined, "error while encoding packet", err, true)
	}

	s.last = raw
	s.lastPkt = p

	return []Action{Send{Packet: p, Raw: raw, KeepTimer: keepTimer}}
}

// fail moves the session to StateFailed. With notify set the peer is told
// through an ERROR packet first.
func (s *Session) fail(kind Kind, code types.ErrCode, msg string, cause error, notify bool) []Action {
	s.state = StateFailed
	s.needData = false
	s.err = &Error{Kind: kind, Code: code, Message: msg, Err: cause}

	var actions []Action

	if notify {
		// the message must not embed the terminator
		e := &types.Error{ErrorCode: code, ErrMsg: strings.ReplaceAll(msg, "\x00", "")}
		if raw, err := types.Encode(e); err == nil {
			actions = append(actions, Send{Packet: e, Raw: raw})
		}
	}

	return append(actions, Finish{Err: s.err})
}
