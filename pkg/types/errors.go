package types

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated       = errors.New("error: packet truncated")
	ErrUnknownOpcode   = errors.New("error: unknown operation code")
	ErrMalformedString = errors.New("error: malformed string")
	ErrInvalidMode     = errors.New("error: invalid transfer mode")
	ErrInvalidOption   = errors.New("error: invalid option")
	ErrWrongOpCode     = errors.New("error: invalid operation code")
	ErrPayloadTooBig   = errors.New("error: payload exceeds maximum block size")
	ErrEmptyFilename   = errors.New("error: empty filename")
	ErrNullInString    = errors.New("error: string contains null byte")
)

// DecodeError describes why a datagram could not be decoded. Kind is one of the
// Err* sentinels above. For ErrInvalidOption on a request or an OACK, Packet
// holds everything that did decode, with the offending options kept verbatim.
type DecodeError struct {
	Kind   error
	Detail string
	Packet Packet
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}

	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Detail)
}

func (e *DecodeError) Unwrap() error {
	return e.Kind
}

func decodeErr(kind error, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
