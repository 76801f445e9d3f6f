package models

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ConnectionError covers dial failures, dropped sockets, and dead children.
type ConnectionError struct {
	Msg string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}
func (e *ConnectionError) Cause() error  { return e.Err }
func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError covers malformed frames, checksum mismatches, error replies,
// and responses that don't match the protocol contract.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}
func (e *ProtocolError) Cause() error  { return e.Err }
func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError names the operation that ran out the clock.
type TimeoutError struct {
	Op   string
	Wait time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Wait)
}

// NotSupportedError marks an operation outside a backend's capability set.
type NotSupportedError struct {
	Backend string
	Op      string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s backend does not support %s", e.Backend, e.Op)
}

// ArgumentError marks a bad caller-supplied value.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string { return e.Msg }

func Connectionf(cause error, format string, args ...interface{}) error {
	return errors.WithStack(&ConnectionError{Msg: fmt.Sprintf(format, args...), Err: cause})
}

func Protocolf(cause error, format string, args ...interface{}) error {
	return errors.WithStack(&ProtocolError{Msg: fmt.Sprintf(format, args...), Err: cause})
}

func Timeout(op string, wait time.Duration) error {
	return errors.WithStack(&TimeoutError{Op: op, Wait: wait})
}

func NotSupported(backend, op string) error {
	return errors.WithStack(&NotSupportedError{Backend: backend, Op: op})
}

func Argumentf(format string, args ...interface{}) error {
	return errors.WithStack(&ArgumentError{Msg: fmt.Sprintf(format, args...)})
}

type causer interface {
	Cause() error
}

// walk visits err and every cause under it, pkg/errors style.
func walk(err error, match func(error) bool) bool {
	for err != nil {
		if match(err) {
			return true
		}
		c, ok := err.(causer)
		if !ok {
			return false
		}
		err = c.Cause()
	}
	return false
}

func IsConnection(err error) bool {
	return walk(err, func(e error) bool { _, ok := e.(*ConnectionError); return ok })
}

func IsProtocol(err error) bool {
	return walk(err, func(e error) bool { _, ok := e.(*ProtocolError); return ok })
}

func IsTimeout(err error) bool {
	return walk(err, func(e error) bool { _, ok := e.(*TimeoutError); return ok })
}

func IsNotSupported(err error) bool {
	return walk(err, func(e error) bool { _, ok := e.(*NotSupportedError); return ok })
}

func IsArgument(err error) bool {
	return walk(err, func(e error) bool { _, ok := e.(*ArgumentError); return ok })
}
