// Package netascii translates between local text and the netascii form used by
// TFTP (RFC 1350, RFC 764): a newline travels as CR LF and a bare carriage
// return as CR NUL.
package netascii

import (
	"io"
)

const (
	cr  = '\r'
	lf  = '\n'
	nul = 0
)

type encoder struct {
	src     io.Reader
	pending []byte
	buf     []byte
	err     error
}

// NewEncoder returns a reader producing the netascii form of src.
func NewEncoder(src io.Reader) io.Reader {
	return &encoder{src: src}
}

func (e *encoder) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(e.pending) == 0 {
		if e.err != nil {
			return 0, e.err
		}

		if cap(e.buf) < len(p) {
			e.buf = make([]byte, len(p))
		}

		n, err := e.src.Read(e.buf[:len(p)])
		e.err = err

		for _, c := range e.buf[:n] {
			switch c {
			case lf:
				e.pending = append(e.pending, cr, lf)
			case cr:
				e.pending = append(e.pending, cr, nul)
			default:
				e.pending = append(e.pending, c)
			}
		}
	}

	n := copy(p, e.pending)
	e.pending = e.pending[n:]

	return n, nil
}

type decoder struct {
	dst  io.Writer
	held bool
	out  []byte
}

// NewDecoder returns a writer that translates netascii written to it back into
// local text on dst. A CR ending one Write is held until the next byte is seen;
// Close flushes it.
func NewDecoder(dst io.Writer) io.WriteCloser {
	return &decoder{dst: dst}
}

func (d *decoder) Write(p []byte) (int, error) {
	d.out = d.out[:0]

	for _, c := range p {
		if d.held {
			d.held = false

			switch c {
			case lf:
				d.out = append(d.out, lf)

				continue
			case nul:
				d.out = append(d.out, cr)

				continue
			default:
				// not valid netascii, keep the CR as sent
				d.out = append(d.out, cr)
			}
		}

		if c == cr {
			d.held = true

			continue
		}

		d.out = append(d.out, c)
	}

	if len(d.out) > 0 {
		if _, err := d.dst.Write(d.out); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

func (d *decoder) Close() error {
	if !d.held {
		return nil
	}

	d.held = false
	_, err := d.dst.Write([]byte{cr})

	return err
}
