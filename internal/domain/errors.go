package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so transports can map it to a status.
type Kind string

const (
	KindInvalidEncoding    Kind = "invalid_encoding"
	KindInvalidParameter   Kind = "invalid_parameter"
	KindExecutableNotFound Kind = "executable_not_found"
	KindTimeout            Kind = "timeout"
	KindProcessFailed      Kind = "process_failed"
	KindNoOutput           Kind = "no_output"
	KindTranscodeFailed    Kind = "transcode_failed"
	KindUploadFailed       Kind = "upload_failed"
	KindOutputTooLarge     Kind = "output_too_large"
	KindBusy               Kind = "busy"
	KindInternal           Kind = "internal"
)

// Error is a classified failure with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrTimeout) works
// for every timeout regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidEncoding    = &Error{Kind: KindInvalidEncoding}
	ErrInvalidParameter   = &Error{Kind: KindInvalidParameter}
	ErrExecutableNotFound = &Error{Kind: KindExecutableNotFound}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrProcessFailed      = &Error{Kind: KindProcessFailed}
	ErrNoOutput           = &Error{Kind: KindNoOutput}
	ErrTranscodeFailed    = &Error{Kind: KindTranscodeFailed}
	ErrUploadFailed       = &Error{Kind: KindUploadFailed}
	ErrOutputTooLarge     = &Error{Kind: KindOutputTooLarge}
	ErrBusy               = &Error{Kind: KindBusy}
)

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind with a message prefix.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
