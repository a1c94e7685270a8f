//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import "syscall"

type control func(network, address string, c syscall.RawConn) error

func controlReusePort() control {
	return nil
}
