package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/Wa4h1h/gotftp/pkg/transport"
	"github.com/Wa4h1h/gotftp/pkg/types"
	"github.com/Wa4h1h/gotftp/pkg/utils"
)

// requestError refuses a request before any transfer starts.
type requestError struct {
	code types.ErrCode
	msg  string
	err  error
}

func (e *requestError) Error() string {
	if e.err == nil {
		return e.msg
	}

	return fmt.Sprintf("%s: %s", e.msg, e.err.Error())
}

func (e *requestError) Unwrap() error {
	return e.err
}

func refuse(code types.ErrCode, err error, format string, args ...any) *requestError {
	return &requestError{code: code, msg: fmt.Sprintf(format, args...), err: err}
}

// fileError maps a file system failure on name to the code sent to the peer.
func fileError(name string, err error) *requestError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return refuse(types.ErrFileNotFound, err, "%s not found", name)
	case errors.Is(err, fs.ErrExist):
		return refuse(types.ErrFileAlreadyExists, err, "%s already exists", name)
	case errors.Is(err, fs.ErrPermission):
		return refuse(types.ErrAccessViolation, err, "access to %s denied", name)
	default:
		return refuse(types.ErrNotDefined, err, "%s can not be opened", name)
	}
}

func sendErrorPacket(conn transport.Conn, to net.Addr, errorPacket *types.Error) error {
	b, err := types.Encode(errorPacket)
	if err != nil {
		return fmt.Errorf("error while marshal error packet: %w", err)
	}

	if err := conn.Send(b, to); err != nil {
		return fmt.Errorf("error while sending error packet: %w", err)
	}

	return nil
}

// resolve maps a requested filename to a path below root. Leading separators
// are ignored; any path that leaves root, directly or through a symlink, is
// refused.
func resolve(root, name string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(name, "/\\")))

	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", utils.ErrPathOutsideRoot, name)
	}

	p := filepath.Join(root, rel)

	// the deepest existing ancestor must still be inside root
	existing := p
	for {
		real, err := filepath.EvalSymlinks(existing)
		if err == nil {
			if !within(root, real) {
				return "", fmt.Errorf("%w: %s", utils.ErrPathOutsideRoot, name)
			}

			break
		}

		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}

		existing = parent
	}

	return p, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// cleanRoot returns root as an absolute path with symlinks resolved.
func cleanRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("error while resolving root %s: %w", root, err)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("error while resolving root %s: %w", root, err)
	}

	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("error while checking root %s: %w", root, err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("error: root %s is not a directory", root)
	}

	return real, nil
}
