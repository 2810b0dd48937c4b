package filesystem

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/brettbedarf/tempofs"
	"github.com/brettbedarf/tempofs/internal/util"
	"github.com/brettbedarf/tempofs/metrics"
)

// State is a descriptor's position in the read dispatch state machine:
//
//	Unprobed -> RangeCapable                   (terminal)
//	Unprobed -> FallbackRequired -> Materialized (terminal)
//
// Transitions only happen after the network operation that justifies them
// has completed successfully.
type State int32

const (
	StateUnprobed State = iota
	StateRangeCapable
	StateFallbackRequired
	StateMaterialized
)

func (s State) String() string {
	switch s {
	case StateRangeCapable:
		return "range-capable"
	case StateFallbackRequired:
		return "fallback-required"
	case StateMaterialized:
		return "materialized"
	default:
		return "unprobed"
	}
}

// single-flight keys
const (
	probeKey       = "probe"
	materializeKey = "materialize"
)

// Descriptor is the per-entry record of a remote resource: its URL, learned
// size, range support and, for resources without range support, the
// materialized body.
type Descriptor struct {
	id     uint64
	entry  *tempofs.Entry
	src    tempofs.Source
	tracer trace.Tracer

	size atomic.Int64 // tempofs.UnknownSize until learned, then fixed

	mu    sync.RWMutex // guards state, probe and body
	state State
	probe *tempofs.ProbeResult
	body  []byte // set once on materialization, never mutated

	flight singleflight.Group
}

func newDescriptor(id uint64, entry *tempofs.Entry, src tempofs.Source, tracer trace.Tracer) *Descriptor {
	d := &Descriptor{id: id, entry: entry, src: src, tracer: tracer}
	d.size.Store(tempofs.UnknownSize)
	return d
}

func (d *Descriptor) ID() uint64            { return d.id }
func (d *Descriptor) Name() string          { return d.entry.Name }
func (d *Descriptor) URL() string           { return d.entry.URL }
func (d *Descriptor) Entry() *tempofs.Entry { return d.entry }

// Size returns the total size, or tempofs.UnknownSize.
func (d *Descriptor) Size() int64 {
	return d.size.Load()
}

func (d *Descriptor) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// ModTime returns the probed Last-Modified time, zero when not known.
func (d *Descriptor) ModTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.probe == nil {
		return time.Time{}
	}
	return d.probe.LastModified
}

// setSize records n as the total size if none is known yet. The first
// observed size wins for the lifetime of the descriptor.
func (d *Descriptor) setSize(n int64) {
	if n < 0 || d.size.CompareAndSwap(tempofs.UnknownSize, n) {
		return
	}
	if cur := d.size.Load(); cur != n {
		logger := util.GetLogger("Descriptor.setSize")
		logger.Warn().Str("name", d.entry.Name).Int64("size", cur).Int64("remote", n).
			Msg("Remote reported a different size; keeping the first one")
	}
}

// EnsureProbed probes the resource if it has not been probed yet and returns
// the resulting state. Concurrent callers share one probe request. A failed
// probe leaves the descriptor unprobed.
func (d *Descriptor) EnsureProbed(ctx context.Context) (State, error) {
	if s := d.State(); s != StateUnprobed {
		return s, nil
	}

	// Detached so one caller giving up does not fail the other waiters;
	// the HTTP client timeout still bounds the request.
	flightCtx := context.WithoutCancel(ctx)
	ch := d.flight.DoChan(probeKey, func() (any, error) {
		// Double-check after acquiring singleflight
		if s := d.State(); s != StateUnprobed {
			return s, nil
		}
		return d.runProbe(flightCtx)
	})

	select {
	case <-ctx.Done():
		return StateUnprobed, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return StateUnprobed, r.Err
		}
		return r.Val.(State), nil
	}
}

func (d *Descriptor) runProbe(ctx context.Context) (State, error) {
	logger := util.GetLogger("Descriptor.Probe")
	ctx, span := d.tracer.Start(ctx, "tempofs.Probe", trace.WithAttributes(
		EntryName(d.entry.Name), EntryURL(d.entry.URL), EntryID(d.id)))
	defer span.End()

	start := time.Now()
	res, err := d.src.Probe(ctx)
	if err != nil {
		metrics.RecordProbe("error", time.Since(start))
		logger.Warn().Err(err).Str("name", d.entry.Name).Msg("Probe failed")
		return StateUnprobed, recordError(span, err)
	}
	metrics.RecordProbe(res.Support.String(), time.Since(start))

	next := StateFallbackRequired
	if res.Support == tempofs.RangeSupported {
		next = StateRangeCapable
	}

	d.setSize(res.Size)
	d.mu.Lock()
	d.probe = res
	d.state = next
	d.mu.Unlock()

	span.SetAttributes(DescriptorState(next), FileSize(d.Size()))
	logger.Debug().Str("name", d.entry.Name).Int64("size", d.Size()).Str("accept_ranges", res.AcceptRanges).
		Stringer("state", next).Msg("Descriptor probed")
	return next, nil
}

// ensureMaterialized returns the cached body, downloading it first if needed.
// Concurrent callers share one download; a failed download is not cached.
func (d *Descriptor) ensureMaterialized(ctx context.Context) ([]byte, error) {
	if body, ok := d.materialized(); ok {
		return body, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := d.flight.DoChan(materializeKey, func() (any, error) {
		// Double-check after acquiring singleflight
		if body, ok := d.materialized(); ok {
			return body, nil
		}
		return d.runMaterialize(flightCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

func (d *Descriptor) materialized() ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.body, d.state == StateMaterialized
}

func (d *Descriptor) runMaterialize(ctx context.Context) ([]byte, error) {
	logger := util.GetLogger("Descriptor.Materialize")
	ctx, span := d.tracer.Start(ctx, "tempofs.Materialize", trace.WithAttributes(
		EntryName(d.entry.Name), EntryURL(d.entry.URL), EntryID(d.id)))
	defer span.End()

	logger.Info().Str("name", d.entry.Name).Str("url", d.entry.URL).Msg("Fetching full body of resource without range support")
	body, err := d.src.FetchAll(ctx)
	if err != nil {
		metrics.RecordMaterialize(0, false)
		logger.Warn().Err(err).Str("name", d.entry.Name).Msg("Materialization failed")
		return nil, recordError(span, err)
	}
	metrics.RecordMaterialize(int64(len(body)), true)

	d.setSize(int64(len(body)))
	d.mu.Lock()
	d.body = body
	d.state = StateMaterialized
	d.mu.Unlock()

	span.SetAttributes(FileSize(int64(len(body))))
	logger.Info().Str("name", d.entry.Name).Int("bytes", len(body)).Msg("Resource materialized")
	return body, nil
}

// Read returns up to length bytes starting at offset. Reads at or past the
// end of a resource of known size return an empty result.
//
// The returned slice may alias the materialized body and must not be modified.
func (d *Descriptor) Read(ctx context.Context, offset, length int64) ([]byte, error) {
	ctx, span := d.tracer.Start(ctx, "tempofs.Read", trace.WithAttributes(
		EntryName(d.entry.Name), EntryID(d.id), ReadOffset(offset), ReadLength(length)))
	defer span.End()

	if offset < 0 || length < 0 {
		err := fmt.Errorf("%w: offset %d length %d", tempofs.ErrInvalidOffset, offset, length)
		return nil, recordError(span, err)
	}
	if length == 0 {
		return nil, nil
	}
	// offset+length must stay representable
	length = min(length, math.MaxInt64-offset)

	state, err := d.EnsureProbed(ctx)
	if err != nil {
		return nil, recordError(span, err)
	}

	var data []byte
	if state == StateRangeCapable {
		data, err = d.readRange(ctx, offset, length)
	} else {
		data, err = d.readMaterialized(ctx, offset, length)
	}

	span.SetAttributes(BytesRead(len(data)), DescriptorState(d.State()))
	return data, recordError(span, err)
}

func (d *Descriptor) readRange(ctx context.Context, offset, length int64) ([]byte, error) {
	logger := util.GetLogger("Descriptor.readRange")

	if size := d.Size(); size != tempofs.UnknownSize {
		if offset >= size {
			metrics.RecordRead(metrics.PathRange, 0, true)
			return nil, nil
		}
		length = min(length, size-offset)
	}

	res, err := d.src.ReadRange(ctx, offset, length)
	if err != nil && tempofs.IsTransient(err) && ctx.Err() == nil {
		logger.Debug().Err(err).Str("name", d.entry.Name).Msg("Retrying transient range read once")
		res, err = d.src.ReadRange(ctx, offset, length)
	}
	if err != nil {
		metrics.RecordRead(metrics.PathRange, 0, false)
		logger.Warn().Err(err).Str("name", d.entry.Name).Int64("offset", offset).Int64("length", length).
			Msg("Range read failed")
		return nil, err
	}

	d.setSize(res.TotalSize)
	if res.Sliced {
		d.mu.RLock()
		acceptRanges := d.probe.AcceptRanges
		d.mu.RUnlock()
		metrics.RecordRangeIgnored()
		logger.Warn().Str("name", d.entry.Name).Str("url", d.entry.URL).Str("accept_ranges", acceptRanges).
			Msg("Server ignored Range header although the probe reported range support")
	}
	data := res.Data
	if int64(len(data)) > length {
		data = data[:length]
	}
	metrics.RecordRead(metrics.PathRange, len(data), true)
	return data, nil
}

func (d *Descriptor) readMaterialized(ctx context.Context, offset, length int64) ([]byte, error) {
	size := d.Size()
	if size != tempofs.UnknownSize && offset >= size {
		metrics.RecordRead(metrics.PathMemory, 0, true)
		return nil, nil
	}

	body, err := d.ensureMaterialized(ctx)
	if err != nil {
		metrics.RecordRead(metrics.PathMemory, 0, false)
		return nil, err
	}
	// Reads never extend past the size reported by stat
	if size = d.Size(); size != tempofs.UnknownSize && size < int64(len(body)) {
		body = body[:size]
	}
	data := sliceWindow(body, offset, length)
	metrics.RecordRead(metrics.PathMemory, len(data), true)
	return data, nil
}

// sliceWindow returns body[offset:offset+length] clamped to the body.
func sliceWindow(body []byte, offset, length int64) []byte {
	n := int64(len(body))
	if offset >= n {
		return nil
	}
	if length >= n-offset {
		return body[offset:]
	}
	return body[offset : offset+length]
}
