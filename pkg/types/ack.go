package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type Ack struct {
	BlockNum uint16
}

func (a *Ack) Type() OpCode {
	return OpCodeACK
}

func (a *Ack) MarshalBinary() ([]byte, error) {
	b := new(bytes.Buffer)
	b.Grow(HeaderSize)

	if err := writeOpcode(b, OpCodeACK); err != nil {
		return nil, err
	}

	if err := binary.Write(b, binary.BigEndian, &a.BlockNum); err != nil {
		return nil, fmt.Errorf("error while writing block#: %w", err)
	}

	return b.Bytes(), nil
}

func (a *Ack) UnmarshalBinary(data []byte) error {
	var err error

	b := bytes.NewBuffer(data)

	if _, err = readOpcode(b, OpCodeACK); err != nil {
		return err
	}

	a.BlockNum, err = readUint16(b, "block#")

	return err
}
