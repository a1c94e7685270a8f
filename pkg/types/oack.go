package types

import (
	"bytes"
	"strings"
)

// OAck acknowledges the subset of requested options the server accepted.
type OAck struct {
	Options Options
}

// NewOAck acknowledges opts with their names in lower case.
func NewOAck(opts Options) *OAck {
	return &OAck{Options: opts.Canonical()}
}

func (o *OAck) Type() OpCode {
	return OpCodeOACK
}

func (o *OAck) MarshalBinary() ([]byte, error) {
	b := new(bytes.Buffer)
	l := 2

	for _, opt := range o.Options {
		l += len(opt.Name) + 1 + len(opt.Value) + 1
	}

	b.Grow(l)

	if err := writeOpcode(b, OpCodeOACK); err != nil {
		return nil, err
	}

	if err := o.Options.marshal(b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func (o *OAck) UnmarshalBinary(data []byte) error {
	b := bytes.NewBuffer(data)

	if _, err := readOpcode(b, OpCodeOACK); err != nil {
		return err
	}

	opts, invalid, err := unmarshalOptions(b)
	if err != nil {
		return err
	}

	o.Options = opts

	if invalid != nil {
		return &DecodeError{Kind: ErrInvalidOption, Detail: strings.TrimPrefix(invalid.Error(), ErrInvalidOption.Error()+": "), Packet: o}
	}

	return nil
}
