package tempofs

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("entry not found")
	ErrDuplicateName    = errors.New("duplicate entry name")
	ErrNoSubdirectories = errors.New("subdirectories are not supported")
	ErrReadOnly         = errors.New("read-only filesystem")
	ErrBadHandle        = errors.New("unknown file handle")
	ErrInvalidOffset    = errors.New("invalid read offset")
)

// ProbeErrorKind classifies a failed probe.
type ProbeErrorKind int

const (
	ProbeUnreachable ProbeErrorKind = iota
	ProbeTooManyRedirects
)

func (k ProbeErrorKind) String() string {
	if k == ProbeTooManyRedirects {
		return "too many redirects"
	}
	return "unreachable"
}

// ProbeError is returned when a resource's metadata could not be determined.
// Status is the HTTP status when one was received, otherwise 0.
type ProbeError struct {
	Kind   ProbeErrorKind
	URL    string
	Status int
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("probe %s: %s: status %d", e.URL, e.Kind, e.Status)
	}
	return fmt.Sprintf("probe %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ReadErrorKind classifies a failed range read.
type ReadErrorKind int

const (
	// ReadTransient covers network failures, timeouts and unexpected
	// statuses; the caller may retry.
	ReadTransient ReadErrorKind = iota
	// ReadUnexpectedFullResponse means the server ignored the Range header
	// and the full body was too large to slice locally.
	ReadUnexpectedFullResponse
	// ReadProtocolViolation means a partial response did not match the
	// requested window.
	ReadProtocolViolation
)

func (k ReadErrorKind) String() string {
	switch k {
	case ReadUnexpectedFullResponse:
		return "unexpected full response"
	case ReadProtocolViolation:
		return "protocol violation"
	default:
		return "transient"
	}
}

// ReadError is returned by range reads.
type ReadError struct {
	Kind   ReadErrorKind
	URL    string
	Offset int64
	Length int64
	Status int
	Err    error
}

func (e *ReadError) Error() string {
	msg := fmt.Sprintf("read %s [%d,+%d): %s", e.URL, e.Offset, e.Length, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReadError) Unwrap() error { return e.Err }

// ErrBodyTooLarge is wrapped by a FetchError when a full download exceeds
// the configured limit.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// FetchError is returned when the fallback full download fails. No partial
// data is retained.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether a later attempt of the same operation may
// succeed. Cancellation by the caller is not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var re *ReadError
	if errors.As(err, &re) {
		return re.Kind == ReadTransient
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return !errors.Is(fe.Err, ErrBodyTooLarge)
	}
	var pe *ProbeError
	return errors.As(err, &pe)
}
