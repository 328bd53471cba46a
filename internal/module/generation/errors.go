package generation

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// AuthFailureSignature appears in provider errors when the caller's key no
// longer resolves to a usable project.
const AuthFailureSignature = "Requested entity was not found"

// Kind classifies generation failures.
type Kind string

const (
	KindValidation Kind = "validation"
	KindEncoding   Kind = "encoding"
	KindProvider   Kind = "provider"
	KindAuth       Kind = "auth"
	KindNetwork    Kind = "network"
	KindTimeout    Kind = "timeout"
	KindCancelled  Kind = "cancelled"
)

// Error is a classified generation failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError creates a classified error.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind) + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels such as ErrAuth.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrEncoding   = &Error{Kind: KindEncoding}
	ErrProvider   = &Error{Kind: KindProvider}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrCancelled  = &Error{Kind: KindCancelled}
)

// ErrBlobNotFound is returned by a BlobStore for unknown handles.
var ErrBlobNotFound = errors.New("blob not found")

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsAuthFailure reports whether err carries the provider's auth failure signature.
func IsAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), AuthFailureSignature)
}

// reclassify turns any error carrying the auth signature into an auth error.
func reclassify(err error) error {
	if err == nil || KindOf(err) == KindAuth || !IsAuthFailure(err) {
		return err
	}
	return NewError(KindAuth, err.Error(), err)
}

// HTTPError is a non-2xx response from the provider.
type HTTPError struct {
	StatusCode int
	// Message is the provider's error message, if the body carried one.
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.StatusText()
}

// StatusText returns the reason phrase for the status code.
func (e *HTTPError) StatusText() string {
	if text := http.StatusText(e.StatusCode); text != "" {
		return text
	}
	return "HTTP " + strconv.Itoa(e.StatusCode)
}
