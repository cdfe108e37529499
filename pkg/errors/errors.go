// Package errors provides error wrapping utilities and the failure kinds
// reported by the image cache.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a cache failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindRemoteFetch
	KindUnsupportedMedia
	KindStorageFailure
	KindIndexFailure
	KindDuplicateHash
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindRemoteFetch:
		return "remote fetch error"
	case KindUnsupportedMedia:
		return "unsupported media"
	case KindStorageFailure:
		return "storage failure"
	case KindIndexFailure:
		return "index failure"
	case KindDuplicateHash:
		return "duplicate hash"
	default:
		return "unknown error"
	}
}

// Pipeline stages named in user-facing messages.
const (
	StageFetch = "fetch"
	StageHash  = "hash"
	StageStore = "store"
	StageIndex = "index"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrRemoteFetch      = &Error{Kind: KindRemoteFetch}
	ErrUnsupportedMedia = &Error{Kind: KindUnsupportedMedia}
	ErrStorageFailure   = &Error{Kind: KindStorageFailure}
	ErrIndexFailure     = &Error{Kind: KindIndexFailure}
	ErrDuplicateHash    = &Error{Kind: KindDuplicateHash}
)

// Error is a classified failure carrying the stage it happened in.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	var msg string
	if e.Stage != "" {
		msg = e.Stage + " failed: "
	}
	msg += e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds a classified error. err may be nil.
func E(kind Kind, stage string, err error) error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Ef builds a classified error from a format string.
func Ef(kind Kind, stage, format string, args ...any) error {
	return &Error{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StageOf returns the stage of the first *Error in err's chain that has one.
func StageOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Stage != "" {
			return e.Stage
		}
		err = stderrors.Unwrap(err)
	}
	return ""
}

// IsNotFound reports whether err is a NotFound result.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// New, Is and As forward to the standard library.
func New(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
