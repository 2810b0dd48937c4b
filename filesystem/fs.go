package filesystem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/brettbedarf/tempofs"
	"github.com/brettbedarf/tempofs/config"
	"github.com/brettbedarf/tempofs/internal/util"
	"github.com/brettbedarf/tempofs/metrics"
)

// RootID is the identifier of the mount root directory.
const RootID uint64 = fuse.FUSE_ROOT_ID

var errHandlesExhausted = errors.New("file handle space exhausted")

// FileSystem is the namespace table: a fixed, ordered set of descriptors
// built once from the manifest, plus the table of open handles.
//
// The descriptor maps are never written after NewFS returns, so lookups take
// no locks. Only per-descriptor state transitions synchronize.
type FileSystem struct {
	cfg     *config.Config
	ordered []*Descriptor // manifest order for listing
	byID    map[uint64]*Descriptor
	byName  map[string]*Descriptor

	handles *xsync.Map[uint64, *Handle]
	lastFH  atomic.Uint64

	tracer    trace.Tracer
	mountTime time.Time
}

// DirEntry is one item of a root directory listing.
type DirEntry struct {
	ID   uint64
	Name string
}

// StatInfo is the metadata reported for a file.
type StatInfo struct {
	ID       uint64
	Size     int64 // tempofs.UnknownSize until learned
	ModTime  time.Time
	Readable bool
	State    State
}

// Option configures a FileSystem.
type Option func(*options)

type options struct {
	tp trace.TracerProvider
}

// WithTracerProvider sets the TracerProvider used for spans. The global
// provider is used when not set.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tp = tp
	}
}

// NewFS builds the namespace from entries, creating one source per entry with
// newSource. Identifiers are assigned in manifest order starting right after
// [RootID]. Duplicate names fail with [tempofs.ErrDuplicateName].
func NewFS(cfg *config.Config, entries []*tempofs.Entry, newSource tempofs.SourceFactory, opts ...Option) (*FileSystem, error) {
	logger := util.GetLogger("FS.NewFS")

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}

	fs := &FileSystem{
		cfg:       cfg,
		ordered:   make([]*Descriptor, 0, len(entries)),
		byID:      make(map[uint64]*Descriptor, len(entries)),
		byName:    make(map[string]*Descriptor, len(entries)),
		handles:   xsync.NewMap[uint64, *Handle](),
		tracer:    o.tp.Tracer(tracerName),
		mountTime: time.Now(),
	}

	for i, entry := range entries {
		if strings.Contains(entry.Name, "/") {
			return nil, fmt.Errorf("%w: entry %q", tempofs.ErrNoSubdirectories, entry.Name)
		}
		if _, ok := fs.byName[entry.Name]; ok {
			return nil, fmt.Errorf("%w: %q", tempofs.ErrDuplicateName, entry.Name)
		}
		src, err := newSource(entry)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry.Name, err)
		}

		d := newDescriptor(RootID+1+uint64(i), entry, src, fs.tracer)
		fs.ordered = append(fs.ordered, d)
		fs.byID[d.id] = d
		fs.byName[entry.Name] = d
		logger.Trace().Uint64("id", d.id).Str("name", entry.Name).Str("uuid", entry.UUID.String()).Msg("Added entry")
	}

	metrics.SetNamespaceEntries(len(fs.ordered))
	logger.Debug().Int("entries", len(fs.ordered)).Msg("Namespace built")
	return fs, nil
}

func (fs *FileSystem) Config() *config.Config { return fs.cfg }

// MountTime is used as the timestamp of the root and of unprobed files.
func (fs *FileSystem) MountTime() time.Time { return fs.mountTime }

// Len returns the number of entries.
func (fs *FileSystem) Len() int { return len(fs.ordered) }

// List returns all entries in manifest order.
func (fs *FileSystem) List() []DirEntry {
	out := make([]DirEntry, len(fs.ordered))
	for i, d := range fs.ordered {
		out[i] = DirEntry{ID: d.id, Name: d.entry.Name}
	}
	return out
}

// Resolve returns the descriptor for id.
func (fs *FileSystem) Resolve(id uint64) (*Descriptor, error) {
	if d, ok := fs.byID[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: id %d", tempofs.ErrNotFound, id)
}

// Lookup finds name inside parentID. Only the root has children; looking
// inside a file fails with [tempofs.ErrNoSubdirectories].
func (fs *FileSystem) Lookup(parentID uint64, name string) (*Descriptor, error) {
	if parentID != RootID {
		if _, ok := fs.byID[parentID]; ok {
			return nil, fmt.Errorf("%w: lookup of %q below id %d", tempofs.ErrNoSubdirectories, name, parentID)
		}
		return nil, fmt.Errorf("%w: parent id %d", tempofs.ErrNotFound, parentID)
	}
	if d, ok := fs.byName[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", tempofs.ErrNotFound, name)
}

// Stat reports a file's metadata. With ProbeOnStat an unprobed file is probed
// first; a failed probe is logged and the size reported as unknown.
func (fs *FileSystem) Stat(ctx context.Context, id uint64) (*StatInfo, error) {
	logger := util.GetLogger("FS.Stat")

	d, err := fs.Resolve(id)
	if err != nil {
		return nil, err
	}

	if fs.cfg.ProbeOnStat {
		ctx, span := fs.tracer.Start(ctx, "tempofs.Stat", trace.WithAttributes(EntryName(d.entry.Name), EntryID(id)))
		if _, err := d.EnsureProbed(ctx); err != nil {
			logger.Warn().Err(err).Str("name", d.entry.Name).Msg("Probe on stat failed; size unknown")
			recordError(span, err)
		}
		span.SetAttributes(FileSize(d.Size()))
		span.End()
	}

	return &StatInfo{
		ID:       id,
		Size:     d.Size(),
		ModTime:  d.ModTime(),
		Readable: true,
		State:    d.State(),
	}, nil
}

// Open returns a new handle for id. Any write intent in flags fails with
// [tempofs.ErrReadOnly]. Multiple handles per file are allowed.
func (fs *FileSystem) Open(id uint64, flags uint32) (*Handle, error) {
	logger := util.GetLogger("FS.Open")

	d, err := fs.Resolve(id)
	if err != nil {
		return nil, err
	}
	if writeIntent(flags) {
		return nil, fmt.Errorf("%w: open %q with flags %#o", tempofs.ErrReadOnly, d.entry.Name, flags)
	}

	fh := fs.lastFH.Add(1)
	if fh > uint64(fs.cfg.MaxFH) {
		return nil, errHandlesExhausted
	}
	h := &Handle{fh: fh, desc: d, flags: flags, opened: time.Now()}
	fs.handles.Store(fh, h)
	metrics.HandleOpened()

	logger.Trace().Uint64("fh", fh).Str("name", d.entry.Name).Msg("Opened handle")
	return h, nil
}

// Read serves a read through an open handle. See [Descriptor.Read].
func (fs *FileSystem) Read(ctx context.Context, fh uint64, offset, length int64) ([]byte, error) {
	h, ok := fs.handles.Load(fh)
	if !ok {
		return nil, fmt.Errorf("%w: %d", tempofs.ErrBadHandle, fh)
	}
	return h.desc.Read(ctx, offset, length)
}

// Close releases fh. Descriptor state and cached data are unaffected.
func (fs *FileSystem) Close(fh uint64) error {
	logger := util.GetLogger("FS.Close")

	h, ok := fs.handles.LoadAndDelete(fh)
	if !ok {
		return fmt.Errorf("%w: %d", tempofs.ErrBadHandle, fh)
	}
	metrics.HandleClosed()
	logger.Trace().Uint64("fh", fh).Str("name", h.desc.entry.Name).Dur("held", time.Since(h.opened)).Msg("Closed handle")
	return nil
}

// OpenHandles returns the number of handles not yet closed.
func (fs *FileSystem) OpenHandles() int {
	return fs.handles.Size()
}

func writeIntent(flags uint32) bool {
	f := int(flags)
	if f&syscall.O_ACCMODE != syscall.O_RDONLY {
		return true
	}
	return f&(syscall.O_APPEND|syscall.O_TRUNC|syscall.O_CREAT) != 0
}
