package tempofs

import (
	"context"
	"time"
)

// Source retrieves data for a single remote resource. Instances are 1:1 with
// a namespace entry and only responsible for that entry's URL.
//
// Implementations must be safe for concurrent use and must not keep
// per-call state: the namespace coordinates probing and materialization.
type Source interface {
	// Probe learns the resource's size and whether it honors byte ranges,
	// using a single metadata round trip in the common case.
	Probe(ctx context.Context) (*ProbeResult, error)

	// ReadRange requests the half-open interval [offset, offset+length).
	// A range the server reports as unsatisfiable yields an empty result.
	ReadRange(ctx context.Context, offset, length int64) (*RangeResult, error)

	// FetchAll downloads the entire body without a Range header.
	FetchAll(ctx context.Context) ([]byte, error)

	// URL returns the address the source reads from.
	URL() string
}

// SourceFactory creates a [Source] for a manifest entry.
type SourceFactory func(entry *Entry) (Source, error)

// ProbeResult is the outcome of a successful probe.
type ProbeResult struct {
	Size         int64 // UnknownSize when the server gave no length
	Support      RangeSupport
	AcceptRanges string    // Raw Accept-Ranges header value, if any
	LastModified time.Time // Zero when absent or unparsable
}

// RangeResult is the outcome of a successful range read.
type RangeResult struct {
	Data []byte
	// TotalSize is the complete resource length if the response revealed it,
	// otherwise UnknownSize.
	TotalSize int64
	// Sliced is true when the server ignored the Range header and the
	// window was cut out of a full body locally.
	Sliced bool
}
