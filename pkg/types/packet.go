package types

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Packet is one TFTP datagram: *Request, *Data, *Ack, *Error or *OAck.
type Packet interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Type() OpCode
}

// Encode serializes p into its wire representation.
func Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, errors.New("error: nil packet")
	}

	return p.MarshalBinary()
}

// Decode parses a datagram. Errors are always *DecodeError.
func Decode(data []byte) (Packet, error) {
	if len(data) < 2 {
		return nil, decodeErr(ErrTruncated, "%d bytes, opcode needs 2", len(data))
	}

	var p Packet

	switch op := OpCode(binary.BigEndian.Uint16(data)); op {
	case OpCodeRRQ, OpCodeWRQ:
		p = &Request{}
	case OpCodeDATA:
		p = &Data{}
	case OpCodeACK:
		p = &Ack{}
	case OpCodeError:
		p = &Error{}
	case OpCodeOACK:
		p = &OAck{}
	default:
		return nil, decodeErr(ErrUnknownOpcode, "opcode %d", uint16(op))
	}

	if err := p.UnmarshalBinary(data); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return nil, de
		}

		return nil, &DecodeError{Kind: ErrTruncated, Detail: err.Error()}
	}

	return p, nil
}

func writeOpcode(b *bytes.Buffer, op OpCode) error {
	if err := binary.Write(b, binary.BigEndian, op); err != nil {
		return fmt.Errorf("error while writing opcode: %w", err)
	}

	return nil
}

func writeString(b *bytes.Buffer, s string, field string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: %s", ErrNullInString, field)
	}

	if _, err := b.WriteString(s); err != nil {
		return fmt.Errorf("error while writing %s: %w", field, err)
	}

	if err := b.WriteByte(0); err != nil {
		return fmt.Errorf("error while writing null byte after %s: %w", field, err)
	}

	return nil
}

func readOpcode(b *bytes.Buffer, want ...OpCode) (OpCode, error) {
	var op OpCode

	if err := binary.Read(b, binary.BigEndian, &op); err != nil {
		return op, decodeErr(ErrTruncated, "error while reading opcode: %s", err.Error())
	}

	for _, w := range want {
		if op == w {
			return op, nil
		}
	}

	return op, &DecodeError{Kind: ErrWrongOpCode, Detail: op.String()}
}

func readUint16(b *bytes.Buffer, field string) (uint16, error) {
	var v uint16

	if err := binary.Read(b, binary.BigEndian, &v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, decodeErr(ErrTruncated, "missing %s", field)
		}

		return 0, decodeErr(ErrTruncated, "error while reading %s: %s", field, err.Error())
	}

	return v, nil
}

func readString(b *bytes.Buffer, field string) (string, error) {
	s, err := b.ReadString(0)
	if err != nil {
		return "", decodeErr(ErrMalformedString, "%s is not null terminated", field)
	}

	return strings.TrimSuffix(s, "\x00"), nil
}
