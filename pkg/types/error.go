package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type Error struct {
	ErrMsg    string
	ErrorCode ErrCode
}

func NewError(code ErrCode, format string, args ...any) *Error {
	return &Error{ErrorCode: code, ErrMsg: fmt.Sprintf(format, args...)}
}

func (e *Error) Type() OpCode {
	return OpCodeError
}

func (e *Error) Error() string {
	if e.ErrMsg == "" {
		return fmt.Sprintf("tftp error %d (%s)", uint16(e.ErrorCode), e.ErrorCode)
	}

	return fmt.Sprintf("tftp error %d (%s): %s", uint16(e.ErrorCode), e.ErrorCode, e.ErrMsg)
}

func (e *Error) MarshalBinary() ([]byte, error) {
	b := new(bytes.Buffer)
	errLength := HeaderSize + len(e.ErrMsg) + 1
	b.Grow(errLength)

	if err := writeOpcode(b, OpCodeError); err != nil {
		return nil, err
	}

	if err := binary.Write(b, binary.BigEndian, &e.ErrorCode); err != nil {
		return nil, fmt.Errorf("error while writing error code: %w", err)
	}

	if err := writeString(b, e.ErrMsg, "error message"); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func (e *Error) UnmarshalBinary(data []byte) error {
	b := bytes.NewBuffer(data)

	if _, err := readOpcode(b, OpCodeError); err != nil {
		return err
	}

	code, err := readUint16(b, "error code")
	if err != nil {
		return err
	}

	e.ErrorCode = ErrCode(code)

	if b.Len() == 0 {
		return decodeErr(ErrTruncated, "missing error message")
	}

	e.ErrMsg, err = readString(b, "error message")

	return err
}
