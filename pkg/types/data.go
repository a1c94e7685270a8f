package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type Data struct {
	Payload  []byte
	BlockNum uint16
}

func (d *Data) Type() OpCode {
	return OpCodeDATA
}

func (d *Data) MarshalBinary() ([]byte, error) {
	if len(d.Payload) > MaxBlockSize {
		return nil, ErrPayloadTooBig
	}

	b := new(bytes.Buffer)
	dataLen := HeaderSize + len(d.Payload)
	b.Grow(dataLen)

	if err := writeOpcode(b, OpCodeDATA); err != nil {
		return nil, err
	}

	if err := binary.Write(b, binary.BigEndian, &d.BlockNum); err != nil {
		return nil, fmt.Errorf("error while writing block#: %w", err)
	}

	if _, err := b.Write(d.Payload); err != nil {
		return nil, fmt.Errorf("error while writing payload: %w", err)
	}

	return b.Bytes(), nil
}

func (d *Data) UnmarshalBinary(data []byte) error {
	var err error

	b := bytes.NewBuffer(data)

	if _, err = readOpcode(b, OpCodeDATA); err != nil {
		return err
	}

	if d.BlockNum, err = readUint16(b, "block#"); err != nil {
		return err
	}

	// the datagram buffer is reused by the caller; an empty payload stays nil
	d.Payload = nil
	if b.Len() > 0 {
		d.Payload = append([]byte(nil), b.Bytes()...)
	}

	return nil
}
