package types

import (
	"fmt"
	"time"
)

type OpCode uint16

const (
	OpCodeRRQ OpCode = iota + 1
	OpCodeWRQ
	OpCodeDATA
	OpCodeACK
	OpCodeError
	OpCodeOACK
)

func (o OpCode) String() string {
	switch o {
	case OpCodeRRQ:
		return "RRQ"
	case OpCodeWRQ:
		return "WRQ"
	case OpCodeDATA:
		return "DATA"
	case OpCodeACK:
		return "ACK"
	case OpCodeError:
		return "ERROR"
	case OpCodeOACK:
		return "OACK"
	default:
		return fmt.Sprintf("OpCode(%d)", uint16(o))
	}
}

type ErrCode uint16

const (
	ErrNotDefined ErrCode = iota
	ErrFileNotFound
	ErrAccessViolation
	ErrDiskFull
	ErrIllegalTftpOp
	ErrUnknownTransferId
	ErrFileAlreadyExists
	ErrNoSuchUser
	ErrOptionNegotiation
)

var errCodeNames = map[ErrCode]string{
	ErrNotDefined:        "not defined",
	ErrFileNotFound:      "file not found",
	ErrAccessViolation:   "access violation",
	ErrDiskFull:          "disk full",
	ErrIllegalTftpOp:     "illegal tftp operation",
	ErrUnknownTransferId: "unknown transfer id",
	ErrFileAlreadyExists: "file already exists",
	ErrNoSuchUser:        "no such user",
	ErrOptionNegotiation: "option negotiation failed",
}

func (e ErrCode) String() string {
	if name, ok := errCodeNames[e]; ok {
		return name
	}

	return fmt.Sprintf("error code %d", uint16(e))
}

const (
	ModeNetASCII = "netascii"
	ModeOctet    = "octet"
	ModeMail     = "mail"
)

// Option names understood by negotiation (RFC 2348, RFC 2349).
const (
	OptionBlockSize    = "blksize"
	OptionTimeout      = "timeout"
	OptionTransferSize = "tsize"
)

const (
	DefaultBlockSize = 512
	MinBlockSize     = 8
	MaxBlockSize     = 65464
	MinTimeout       = 1
	MaxTimeout       = 255
	DefaultTimeout   = 5 * time.Second
	DefaultNumTries  = 5
	DefaultPort      = "69"
	HeaderSize       = 4
	// DatagramSize fits the largest DATA packet a peer may negotiate.
	DatagramSize = MaxBlockSize + HeaderSize
)
