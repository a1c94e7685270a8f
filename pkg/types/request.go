package types

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

type Request struct {
	Opcode   OpCode
	Filename string
	Mode     string
	Options  Options
}

// NewRequest builds an RRQ or WRQ with the mode and option names in lower case.
// The codec itself keeps whatever case it is given.
func NewRequest(op OpCode, filename, mode string, opts Options) *Request {
	return &Request{Opcode: op, Filename: filename, Mode: strings.ToLower(mode), Options: opts.Canonical()}
}

func (r *Request) Type() OpCode {
	return r.Opcode
}

// TransferMode returns the mode in lower case, ready to compare with ModeOctet,
// ModeNetASCII and ModeMail.
func (r *Request) TransferMode() string {
	return strings.ToLower(r.Mode)
}

func ValidMode(mode string) bool {
	switch strings.ToLower(mode) {
	case ModeNetASCII, ModeOctet, ModeMail:
		return true
	default:
		return false
	}
}

func (r *Request) MarshalBinary() ([]byte, error) {
	if r.Opcode != OpCodeRRQ && r.Opcode != OpCodeWRQ {
		return nil, ErrWrongOpCode
	}

	if r.Filename == "" {
		return nil, ErrEmptyFilename
	}

	if !ValidMode(r.Mode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, r.Mode)
	}

	b := new(bytes.Buffer)
	rqLen := 2 + len(r.Filename) + 1 + len(r.Mode) + 1

	for _, opt := range r.Options {
		rqLen += len(opt.Name) + 1 + len(opt.Value) + 1
	}

	b.Grow(rqLen)

	if err := writeOpcode(b, r.Opcode); err != nil {
		return nil, err
	}

	if err := writeString(b, r.Filename, "filename"); err != nil {
		return nil, err
	}

	if err := writeString(b, r.Mode, "mode"); err != nil {
		return nil, err
	}

	if err := r.Options.marshal(b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func (r *Request) UnmarshalBinary(data []byte) error {
	var err error

	rd := bytes.NewBuffer(data)

	r.Opcode, err = readOpcode(rd, OpCodeRRQ, OpCodeWRQ)
	if err != nil {
		return err
	}

	if rd.Len() == 0 {
		return decodeErr(ErrTruncated, "missing filename")
	}

	r.Filename, err = readString(rd, "filename")
	if err != nil {
		return err
	}

	if r.Filename == "" {
		return decodeErr(ErrMalformedString, "empty filename")
	}

	if rd.Len() == 0 {
		return decodeErr(ErrTruncated, "missing mode")
	}

	r.Mode, err = readString(rd, "mode")
	if err != nil {
		return err
	}

	if !ValidMode(r.Mode) {
		return decodeErr(ErrInvalidMode, "%q", r.Mode)
	}

	opts, invalid, err := unmarshalOptions(rd)
	if err != nil {
		return err
	}

	r.Options = opts

	if invalid != nil {
		return &DecodeError{Kind: ErrInvalidOption, Detail: strings.TrimPrefix(invalid.Error(), ErrInvalidOption.Error()+": "), Packet: r}
	}

	return nil
}

// IsInvalidOption reports whether err is a decode failure caused only by option
// values, returning the packet that decoded around them.
func IsInvalidOption(err error) (Packet, bool) {
	var de *DecodeError
	if errors.As(err, &de) && errors.Is(de.Kind, ErrInvalidOption) && de.Packet != nil {
		return de.Packet, true
	}

	return nil, false
}
