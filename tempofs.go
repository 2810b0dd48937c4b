// Package tempofs contains the core domain types for a read-only, flat
// filesystem whose files are backed by remote HTTP(S) resources.
//
// Reads against a file are translated into HTTP range requests. Resources
// that do not honor partial content are fetched once in full and served
// from memory afterwards.
package tempofs

import (
	"github.com/google/uuid"
)

// Entry is a single manifest record: a display name bound to a remote URL.
// Entries are immutable once the namespace has been built from them.
type Entry struct {
	Name    string
	URL     string
	Headers map[string]string // Passed through on every request to URL
	UUID    uuid.UUID         // Stable identifier for logs and xattrs
}

// NewEntry returns an Entry with a freshly generated UUID.
func NewEntry(name, url string, headers map[string]string) *Entry {
	return &Entry{
		Name:    name,
		URL:     url,
		Headers: headers,
		UUID:    uuid.New(),
	}
}

// RangeSupport is the tri-state result of probing a resource.
type RangeSupport int32

const (
	RangeUnknown RangeSupport = iota
	RangeSupported
	RangeUnsupported
)

func (r RangeSupport) String() string {
	switch r {
	case RangeSupported:
		return "supported"
	case RangeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// UnknownSize marks a size that has not been learned from the remote yet.
const UnknownSize int64 = -1
