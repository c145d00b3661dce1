package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned by single-key reads when a key is absent or
	// its TTL has elapsed. The two cases are indistinguishable on purpose.
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrClosed is returned by mutating operations after Close.
	ErrClosed = errors.New("cache: closed")
)

// CodecError reports a key or value the codec could not canonicalize or
// restore. It is a distinct type so callers can tell "unencodable" apart
// from ErrKeyNotFound.
type CodecError struct {
	Op    string // "encode" or "decode"
	What  string // "key" or "value"
	Cause error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("cache: %s %s: %v", e.Op, e.What, e.Cause)
}

func (e *CodecError) Unwrap() error { return e.Cause }

func encodeErr(what string, cause error) *CodecError {
	return &CodecError{Op: "encode", What: what, Cause: cause}
}

func decodeErr(what string, cause error) *CodecError {
	return &CodecError{Op: "decode", What: what, Cause: cause}
}
