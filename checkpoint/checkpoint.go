// Package checkpoint decorates errors with the caller location of every hop
// they pass through, which gives a short trace when an error finally reaches
// a log line or a client response.
// Each error added to a checkpoint can still be checked by errors.Is and
// retrieved by errors.As.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// From wraps err by a new checkpoint which records the caller.
// It returns nil if err == nil.
func From(err error) error {
	// io.EOF must be returned as io.EOF directly
	// https://github.com/golang/go/issues/39155
	if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}
	return newCheckpoint(err, nil, "")
}

// Wrap adds a checkpoint to prev and attaches err as the error that describes
// this hop. errors.Is matches both err and anything in the chain of prev:
//
//	var ErrNoSpace = errors.New("no space left")
//
//	func allocate() error {
//		err := scan()
//		return checkpoint.Wrap(err, ErrNoSpace)
//	}
//
// Returns nil if prev == nil, so it can be applied to a call result directly.
func Wrap(prev, err error) error {
	if prev == nil || prev == io.EOF {
		return prev
	}
	return newCheckpoint(err, prev, "")
}

// With creates a checkpoint for kind carrying a formatted detail message.
// Unlike Wrap it always returns an error, which makes it the way to raise a
// sentinel kind at the place where the condition is detected.
func With(kind error, format string, args ...interface{}) error {
	return newCheckpoint(kind, nil, fmt.Sprintf(format, args...))
}

// Where returns the caller location recorded by the outermost checkpoint
// of err.
func Where(err error) (file string, line int, ok bool) {
	var cp *checkpoint
	if !errors.As(err, &cp) {
		return "", 0, false
	}
	return cp.file, cp.line, cp.callerOk
}

func newCheckpoint(err, prev error, detail string) *checkpoint {
	// Skip newCheckpoint and the exported constructor.
	_, file, line, ok := runtime.Caller(2)
	return &checkpoint{
		err:    err,
		prev:   prev,
		detail: detail,

		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

type checkpoint struct {
	err    error
	prev   error
	detail string

	callerOk bool
	file     string
	line     int
}

func (e *checkpoint) Error() string {
	var b strings.Builder
	if e.callerOk {
		b.WriteString(e.file)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.line))
	} else {
		b.WriteString("unknown")
	}
	if e.err != nil {
		b.WriteString(": ")
		b.WriteString(e.err.Error())
	}
	if e.detail != "" {
		b.WriteString(": ")
		b.WriteString(e.detail)
	}
	if e.prev != nil {
		b.WriteString(" <- ")
		b.WriteString(e.prev.Error())
	}
	return b.String()
}

func (e *checkpoint) Unwrap() error {
	return e.prev
}

func (e *checkpoint) Is(target error) bool {
	return e.err != nil && errors.Is(e.err, target)
}

func (e *checkpoint) As(target interface{}) bool {
	return e.err != nil && errors.As(e.err, target)
}
