package config

import "github.com/brettbedarf/tempofs/internal/util"

// Bytes per KB / MB
const (
	KB = 1024
	MB = 1024 * KB
)

// Verbosity is the user-facing log level scale used by the CLI and config
// files: 1 (error) through 5 (trace).
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultFsName = "tempofs"
	DefaultName   = "tempofs"
	DefaultLogLvl = util.InfoLevel

	// DefaultRequestTimeout bounds every outbound HTTP request in seconds
	DefaultRequestTimeout = 30.0

	// DefaultMaxRedirects is the redirect hop limit for probes and reads
	DefaultMaxRedirects = 5

	// DefaultMaxFullResponseSize is the largest full body a range read will
	// slice locally when a server ignores the Range header
	DefaultMaxFullResponseSize = 16 * MB

	// DefaultMaxMaterializeSize of 0 leaves fallback downloads unbounded
	DefaultMaxMaterializeSize = 0

	DefaultProbeOnStat = true

	// DefaultRequestsPerSecond of 0 disables outbound rate limiting
	DefaultRequestsPerSecond = 0.0
	DefaultRequestBurst      = 1

	DefaultMaxIdleConnsPerHost = 16
	DefaultUserAgent           = "tempofs"

	// Uses 31 bits (2^31 - 1 = 2,147,483,647) to ensure compatibility with libfuse
	// and avoid signed integer overflow. This provides over 2 billion unique file
	// handles while staying within safe interop limits.
	DefaultMaxFH = (1 << 31) - 1

	// DefaultMaxReadAhead is the kernel readahead window per FUSE request
	DefaultMaxReadAhead = 128 * KB

	// DefaultAttrTimeout is the attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0

	// DefaultDirectIO bypasses the page cache so reads reach the engine even
	// while a file's size is still unknown
	DefaultDirectIO = true
)

// VerbosityToLogLevel converts a 1..5 verbosity into a [util.LogLevel],
// clamping out of range values.
func VerbosityToLogLevel(verbose int) util.LogLevel {
	if verbose < ErrorVerbose {
		verbose = ErrorVerbose
	}
	if verbose > TraceVerbose {
		verbose = TraceVerbose
	}
	lvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	return lvls[verbose-1]
}
