package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/Wa4h1h/gotftp/pkg/netascii"
	"github.com/Wa4h1h/gotftp/pkg/types"
	"github.com/Wa4h1h/gotftp/pkg/utils"
)

// sink is the file a WRQ writes to. Without overwrite the target is created
// exclusively; with overwrite the upload goes to a temporary file that replaces
// the target on success. A failed upload leaves nothing behind.
type sink struct {
	io.Writer
	f       *os.File
	decoder io.WriteCloser
	path    string
	target  string
}

type limitWriter struct {
	w       io.Writer
	written int64
	limit   int64
}

func (l *limitWriter) Write(b []byte) (int, error) {
	if l.limit > 0 && l.written+int64(len(b)) > l.limit {
		return 0, fmt.Errorf("%w: more than %d bytes", utils.ErrDiskFull, l.limit)
	}

	n, err := l.w.Write(b)
	l.written += int64(n)

	return n, err
}

func (s *Server) openSink(req *types.Request) (*sink, error) {
	if !s.cfg.AllowWrite {
		return nil, refuse(types.ErrAccessViolation, utils.ErrWritesDisabled, "writes are disabled")
	}

	p, err := resolve(s.root, req.Filename)
	if err != nil {
		return nil, refuse(types.ErrAccessViolation, err, "access to %s denied", req.Filename)
	}

	if info, err := os.Stat(p); err == nil && !info.Mode().IsRegular() {
		return nil, refuse(types.ErrAccessViolation, nil, "%s is not a regular file", req.Filename)
	}

	var (
		f      *os.File
		target string
	)

	if s.cfg.Overwrite {
		f, err = os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*.part")
		target = p
	} else {
		f, err = os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}

	if err != nil {
		return nil, fileError(req.Filename, err)
	}

	out := &sink{f: f, path: f.Name(), target: target}
	out.Writer = &limitWriter{w: f, limit: s.cfg.Policy.MaxTransferSize}

	if req.TransferMode() == types.ModeNetASCII {
		out.decoder = netascii.NewDecoder(out.Writer)
		out.Writer = out.decoder
	}

	return out, nil
}

// finish flushes and closes the file, then commits it when ok or removes it.
func (s *sink) finish(ok bool) error {
	var err error

	if s.decoder != nil && ok {
		err = multierr.Append(err, s.decoder.Close())
	}

	err = multierr.Append(err, s.f.Close())

	if ok && err == nil {
		if s.target == "" {
			return nil
		}

		errRename := os.Rename(s.path, s.target)
		if errRename == nil {
			return nil
		}

		err = fmt.Errorf("error while replacing %s: %w", s.target, errRename)
	}

	if errRemove := os.Remove(s.path); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
		err = multierr.Append(err, fmt.Errorf("error while removing partial upload: %w", errRemove))
	}

	return err
}
