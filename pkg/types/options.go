package types

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

type Option struct {
	Name  string
	Value string
}

// Options keeps the order in which options appear on the wire.
type Options []Option

func (o Options) Get(name string) (string, bool) {
	name = strings.ToLower(name)

	for _, opt := range o {
		if strings.ToLower(opt.Name) == name {
			return opt.Value, true
		}
	}

	return "", false
}

// Set replaces the value of name or appends it.
func (o Options) Set(name, value string) Options {
	lower := strings.ToLower(name)

	for i, opt := range o {
		if strings.ToLower(opt.Name) == lower {
			o[i].Value = value

			return o
		}
	}

	return append(o, Option{Name: lower, Value: value})
}

func (o Options) Delete(name string) Options {
	name = strings.ToLower(name)
	out := o[:0:0]

	for _, opt := range o {
		if strings.ToLower(opt.Name) != name {
			out = append(out, opt)
		}
	}

	return out
}

func (o Options) Clone() Options {
	if o == nil {
		return nil
	}

	out := make(Options, len(o))
	copy(out, o)

	return out
}

// Canonical returns a copy with every name in lower case.
func (o Options) Canonical() Options {
	out := o.Clone()
	for i := range out {
		out[i].Name = strings.ToLower(out[i].Name)
	}

	return out
}

func (o Options) String() string {
	parts := make([]string, 0, len(o))
	for _, opt := range o {
		parts = append(parts, opt.Name+"="+opt.Value)
	}

	return strings.Join(parts, " ")
}

// ParseOption validates the value of a recognized option and returns it as an
// integer. Unrecognized names are not an error; ok is false for them.
func ParseOption(name, value string) (n int64, ok bool, err error) {
	var lo, hi int64

	switch strings.ToLower(name) {
	case OptionBlockSize:
		lo, hi = MinBlockSize, MaxBlockSize
	case OptionTimeout:
		lo, hi = MinTimeout, MaxTimeout
	case OptionTransferSize:
		lo, hi = 0, 1<<63-1
	default:
		return 0, false, nil
	}

	n, errParse := strconv.ParseInt(value, 10, 64)
	if errParse != nil || strings.HasPrefix(value, "+") {
		return 0, true, fmt.Errorf("%w: %s=%q is not a decimal integer", ErrInvalidOption, name, value)
	}

	if n < lo || n > hi {
		return n, true, fmt.Errorf("%w: %s=%d outside %d..%d", ErrInvalidOption, name, n, lo, hi)
	}

	return n, true, nil
}

func (o Options) marshal(b *bytes.Buffer) error {
	for _, opt := range o {
		if opt.Name == "" {
			return fmt.Errorf("%w: empty option name", ErrInvalidOption)
		}

		if err := writeString(b, opt.Name, "option name"); err != nil {
			return err
		}

		if err := writeString(b, opt.Value, "option value"); err != nil {
			return err
		}
	}

	return nil
}

// unmarshalOptions reads name/value pairs until the buffer is exhausted, keeping
// names as sent; duplicates are detected case-insensitively. The
// returned invalid error, if any, is the first ErrInvalidOption seen; decoding
// continues past it so the caller still gets every option.
func unmarshalOptions(b *bytes.Buffer) (opts Options, invalid error, err error) {
	for b.Len() > 0 {
		name, err := readString(b, "option name")
		if err != nil {
			return nil, nil, err
		}

		if name == "" {
			return nil, nil, decodeErr(ErrMalformedString, "empty option name")
		}

		value, err := readString(b, fmt.Sprintf("value of option %s", name))
		if err != nil {
			return nil, nil, err
		}

		if _, dup := opts.Get(name); dup {
			if invalid == nil {
				invalid = fmt.Errorf("%w: duplicate option %s", ErrInvalidOption, name)
			}

			continue
		}

		if _, _, errOpt := ParseOption(name, value); errOpt != nil && invalid == nil {
			invalid = errOpt
		}

		opts = append(opts, Option{Name: name, Value: value})
	}

	return opts, invalid, nil
}
