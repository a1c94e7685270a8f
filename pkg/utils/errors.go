package utils

import "errors"

var (
	ErrStartingServer  = errors.New("error: starting the udp server")
	ErrServerClosed    = errors.New("error: server closed")
	ErrNotConnected    = errors.New("error: client is not connected, use connect <host> <port>")
	ErrPathOutsideRoot = errors.New("error: path escapes the server root")
	ErrWritesDisabled  = errors.New("error: writes are disabled")
	ErrDiskFull        = errors.New("error: transfer exceeds the allowed size")
	ErrUnknownCommand  = errors.New("error: unknown command")
	ErrInvalidLogLevel = errors.New("error: invalid log level")
)
