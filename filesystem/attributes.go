package filesystem

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/brettbedarf/tempofs/filesystem"

const (
	entryNameKey = attribute.Key("tempofs.entry.name")
	entryURLKey  = attribute.Key("tempofs.entry.url")
	entryIDKey   = attribute.Key("tempofs.entry.id")
	stateKey     = attribute.Key("tempofs.state")
	sizeKey      = attribute.Key("file.size")

	offsetKey    = attribute.Key("read.offset")
	lengthKey    = attribute.Key("read.length")
	bytesReadKey = attribute.Key("file.bytes_read")
)

// The manifest name of the entry being operated on.
//
// Type: string
// Examples: "data.bin"
func EntryName(name string) attribute.KeyValue {
	return entryNameKey.String(name)
}

// The remote URL backing the entry.
//
// Type: string
// Examples: "https://example.com/data.bin"
func EntryURL(url string) attribute.KeyValue {
	return entryURLKey.String(url)
}

// The stable file identifier (inode number) of the entry.
//
// Type: int64
func EntryID(id uint64) attribute.KeyValue {
	return entryIDKey.Int64(int64(id))
}

// The descriptor's read state after the operation.
//
// Type: string
// Examples: "unprobed", "range-capable", "materialized"
func DescriptorState(s State) attribute.KeyValue {
	return stateKey.String(s.String())
}

// The known total size of the resource, -1 when unknown.
//
// Type: int64
func FileSize(n int64) attribute.KeyValue {
	return sizeKey.Int64(n)
}

// The requested read offset.
//
// Type: int64
func ReadOffset(n int64) attribute.KeyValue {
	return offsetKey.Int64(n)
}

// The requested read length.
//
// Type: int64
func ReadLength(n int64) attribute.KeyValue {
	return lengthKey.Int64(n)
}

// The number of bytes returned by a read.
//
// Type: int
func BytesRead(n int) attribute.KeyValue {
	return bytesReadKey.Int(n)
}

// recordError records the given error on the span, and returns it. It does not
// set the span's status to error.
func recordError(span trace.Span, err error) error {
	span.RecordError(err)

	return err
}
