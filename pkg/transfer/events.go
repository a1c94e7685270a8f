package transfer

import (
	"fmt"

	"github.com/Wa4h1h/gotftp/pkg/types"
)

type State int

const (
	StateNegotiating State = iota
	StateAwaitingOptionAck
	StateTransferring
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateAwaitingOptionAck:
		return "awaiting-oack"
	case StateTransferring:
		return "transferring"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Direction is named from the client's side: Read downloads, Write uploads.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

func (d Direction) String() string {
	if d == DirectionWrite {
		return "write"
	}

	return "read"
}

func (d Direction) Opcode() types.OpCode {
	if d == DirectionWrite {
		return types.OpCodeWRQ
	}

	return types.OpCodeRRQ
}

type Event interface {
	event()
}

// Start emits the opening packet: the request for a client, the OACK, first
// ACK or first block request for a server.
type Start struct{}

type Received struct {
	Packet types.Packet
}

// Malformed reports a datagram from the bound peer that failed to decode.
type Malformed struct {
	Err error
}

type Timeout struct{}

// Supply answers a NeedData action with the next block read from the source.
// A payload shorter than the block size marks the last block.
type Supply struct {
	Payload []byte
}

type Cancel struct{}

// LocalFailure reports a failure of the local file or network capability.
type LocalFailure struct {
	Code types.ErrCode
	Err  error
}

func (Start) event()        {}
func (Received) event()     {}
func (Malformed) event()    {}
func (Timeout) event()      {}
func (Supply) event()       {}
func (Cancel) event()       {}
func (LocalFailure) event() {}

type Action interface {
	action()
}

// Send asks the owner to transmit Raw to the bound peer. KeepTimer is set when
// Raw answers a duplicate; such sends leave the retransmission timer running.
type Send struct {
	Packet    types.Packet
	Raw       []byte
	KeepTimer bool
}

type Deliver struct {
	Payload []byte
}

type NeedData struct {
	Block uint16
	Size  int
}

// Finish ends the session; Err is nil on success and *Error otherwise.
type Finish struct {
	Err error
}

func (Send) action()     {}
func (Deliver) action()  {}
func (NeedData) action() {}
func (Finish) action()   {}
