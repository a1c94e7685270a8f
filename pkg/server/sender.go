package server

import (
	"fmt"
	"io"
	"os"

	"github.com/Wa4h1h/gotftp/pkg/netascii"
	"github.com/Wa4h1h/gotftp/pkg/types"
)

// source is the file an RRQ reads from.
type source struct {
	io.Reader
	f    *os.File
	size int64
}

func (s *Server) openSource(req *types.Request) (*source, error) {
	p, err := resolve(s.root, req.Filename)
	if err != nil {
		return nil, refuse(types.ErrAccessViolation, err, "access to %s denied", req.Filename)
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, fileError(req.Filename, err)
	}

	if !info.Mode().IsRegular() {
		return nil, refuse(types.ErrAccessViolation, nil, "%s is not a regular file", req.Filename)
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fileError(req.Filename, err)
	}

	src := &source{Reader: f, f: f, size: info.Size()}

	if req.TransferMode() == types.ModeNetASCII {
		// the size on the wire is not known in advance
		src.Reader = netascii.NewEncoder(f)
		src.size = -1
	}

	return src, nil
}

func (src *source) Close() error {
	if err := src.f.Close(); err != nil {
		return fmt.Errorf("error while closing file: %w", err)
	}

	return nil
}
