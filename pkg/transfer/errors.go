package transfer

import (
	"errors"
	"fmt"

	"github.com/Wa4h1h/gotftp/pkg/types"
)

type Kind int

const (
	// KindRemote: the peer sent an ERROR packet.
	KindRemote Kind = iota + 1
	// KindProtocol: the peer violated the protocol or negotiation failed.
	KindProtocol
	KindTimeout
	KindCancelled
	// KindIO: the local file or network capability failed.
	KindIO
	// KindMalformed: the bound peer sent a datagram that did not decode.
	KindMalformed
)

var (
	ErrRemote    = errors.New("error: peer aborted the transfer")
	ErrProtocol  = errors.New("error: protocol violation")
	ErrTimeout   = errors.New("error: transfer timed out")
	ErrCancelled = errors.New("error: transfer cancelled")
	ErrIO        = errors.New("error: local i/o failure")
	ErrMalformed = errors.New("error: malformed packet")
)

func (k Kind) sentinel() error {
	switch k {
	case KindRemote:
		return ErrRemote
	case KindProtocol:
		return ErrProtocol
	case KindTimeout:
		return ErrTimeout
	case KindCancelled:
		return ErrCancelled
	case KindIO:
		return ErrIO
	default:
		return ErrMalformed
	}
}

func (k Kind) String() string {
	switch k {
	case KindRemote:
		return "remote"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindIO:
		return "io"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the terminal failure of a session. Code is the TFTP error code that
// was received (KindRemote) or sent to the peer.
type Error struct {
	Kind    Kind
	Code    types.ErrCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()

	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s (code %d, %s)", msg, e.Message, uint16(e.Code), e.Code)
	} else {
		msg = fmt.Sprintf("%s (code %d, %s)", msg, uint16(e.Code), e.Code)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}

	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}

	return []error{e.Kind.sentinel(), e.Err}
}
