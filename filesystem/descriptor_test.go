package filesystem

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/brettbedarf/tempofs"
	"github.com/brettbedarf/tempofs/internal/mocks"
)

func TestDescriptor_InitialState(t *testing.T) {
	t.Parallel()
	d := newTestDescriptor(&mocks.MockSource{})

	assert.Equal(t, StateUnprobed, d.State())
	assert.Equal(t, tempofs.UnknownSize, d.Size())
	assert.True(t, d.ModTime().IsZero())
	assert.Equal(t, "data.bin", d.Name())
}

func TestDescriptor_EnsureProbed(t *testing.T) {
	t.Parallel()

	t.Run("RangeCapable", func(t *testing.T) {
		t.Parallel()
		mod := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		src := &mocks.MockSource{}
		src.On("Probe", mock.Anything).
			Return(&tempofs.ProbeResult{Size: 1000, Support: tempofs.RangeSupported, LastModified: mod}, nil).Once()
		d := newTestDescriptor(src)

		state, err := d.EnsureProbed(context.Background())

		require.NoError(t, err)
		assert.Equal(t, StateRangeCapable, state)
		assert.Equal(t, int64(1000), d.Size())
		assert.Equal(t, mod, d.ModTime())
	})

	t.Run("NotRangeCapable", func(t *testing.T) {
		t.Parallel()
		src := &mocks.MockSource{}
		src.On("Probe", mock.Anything).
			Return(&tempofs.ProbeResult{Size: 50, Support: tempofs.RangeUnsupported}, nil).Once()
		d := newTestDescriptor(src)

		state, err := d.EnsureProbed(context.Background())

		require.NoError(t, err)
		assert.Equal(t, StateFallbackRequired, state)
		assert.Equal(t, int64(50), d.Size())
	})

	t.Run("ProbedOnlyOnce", func(t *testing.T) {
		t.Parallel()
		src := &mocks.MockSource{}
		src.On("Probe", mock.Anything).
			Return(&tempofs.ProbeResult{Size: 10, Support: tempofs.RangeSupported}, nil).Once()
		d := newTestDescriptor(src)

		for range 3 {
			_, err := d.EnsureProbed(context.Background())
			require.NoError(t, err)
		}

		src.AssertNumberOfCalls(t, "Probe", 1)
	})

	t.Run("FailureLeavesUnprobed", func(t *testing.T) {
		t.Parallel()
		probeErr := &tempofs.ProbeError{Kind: tempofs.ProbeUnreachable, URL: "http://x/data.bin", Status: 404}
		src := &mocks.MockSource{}
		src.On("Probe", mock.Anything).Return(nil, probeErr).Once()
		src.On("Probe", mock.Anything).
			Return(&tempofs.ProbeResult{Size: 10, Support: tempofs.RangeSupported}, nil).Once()
		d := newTestDescriptor(src)

		_, err := d.EnsureProbed(context.Background())
		assert.ErrorIs(t, err, probeErr)
		assert.Equal(t, StateUnprobed, d.State())
		assert.Equal(t, tempofs.UnknownSize, d.Size())

		state, err := d.EnsureProbed(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateRangeCapable, state)
		src.AssertNumberOfCalls(t, "Probe", 2)
	})

	t.Run("CanceledWaiter", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		src := &mocks.MockSource{}
		src.On("Probe", mock.Anything).Return(func(context.Context) *tempofs.ProbeResult {
			<-release
			return &tempofs.ProbeResult{Size: 10, Support: tempofs.RangeSupported}
		}, nil).Once()
		d := newTestDescriptor(src)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		state, err := d.EnsureProbed(ctx)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateUnprobed, state)

		// The shared probe keeps running for other callers.
		close(release)
		state, err = d.EnsureProbed(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateRangeCapable, state)
		src.AssertNumberOfCalls(t, "Probe", 1)
	})
}

func TestDescriptor_ConcurrentReadsShareProbe(t *testing.T) {
	t.Parallel()
	content := testContent(1000)
	release := make(chan struct{})
	src := &mocks.MockSource{}
	src.On("Probe", mock.Anything).Return(func(context.Context) *tempofs.ProbeResult {
		<-release
		return &tempofs.ProbeResult{Size: 1000, Support: tempofs.RangeSupported}
	}, nil).Once()
	src.On("ReadRange", mock.Anything, mock.Anything, mock.Anything).Return(rangeFrom(content), nil)
	d := newTestDescriptor(src)

	var wg sync.WaitGroup
	results := make([][]byte, 16)
	for i := range results {
		wg.Go(func() {
			data, err := d.Read(context.Background(), int64(i*10), 10)
			assert.NoError(t, err)
			results[i] = data
		})
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	src.AssertNumberOfCalls(t, "Probe", 1)
	for i, data := range results {
		assert.Equal(t, content[i*10:i*10+10], data)
	}
}

func TestDescriptor_ReadRange(t *testing.T) {
	t.Parallel()
	content := testContent(1000)

	tests := []struct {
		name         string
		offset       int64
		length       int64
		want         []byte
		wantRequests int
	}{
		{"Middle", 500, 300, content[500:800], 1},
		{"ClampedAtEnd", 900, 300, content[900:], 1},
		{"AtEnd", 1000, 10, nil, 0},
		{"PastEnd", 5000, 10, nil, 0},
		{"ZeroLength", 10, 0, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := rangeCapableSource(content)
			d := newTestDescriptor(src)

			data, err := d.Read(context.Background(), tt.offset, tt.length)

			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
			src.AssertNumberOfCalls(t, "ReadRange", tt.wantRequests)
		})
	}
}

func TestDescriptor_ReadRangeRequestsClampedLength(t *testing.T) {
	t.Parallel()
	content := testContent(1000)
	src := rangeCapableSource(content)
	d := newTestDescriptor(src)

	_, err := d.Read(context.Background(), 900, 300)

	require.NoError(t, err)
	src.AssertCalled(t, "ReadRange", mock.Anything, int64(900), int64(100))
}

func TestDescriptor_ReadInvalidOffset(t *testing.T) {
	t.Parallel()
	src := &mocks.MockSource{}
	d := newTestDescriptor(src)

	_, err := d.Read(context.Background(), -1, 10)

	assert.ErrorIs(t, err, tempofs.ErrInvalidOffset)
	src.AssertNotCalled(t, "Probe", mock.Anything)
}

func TestDescriptor_SizeLearnedFromRead(t *testing.T) {
	t.Parallel()
	content := testContent(20)
	src := &mocks.MockSource{}
	src.On("Probe", mock.Anything).
		Return(&tempofs.ProbeResult{Size: tempofs.UnknownSize, Support: tempofs.RangeSupported}, nil)
	src.On("ReadRange", mock.Anything, mock.Anything, mock.Anything).Return(rangeFrom(content), nil)
	d := newTestDescriptor(src)

	data, err := d.Read(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, content[:10], data)
	assert.Equal(t, int64(20), d.Size())

	data, err = d.Read(context.Background(), 20, 5)
	require.NoError(t, err)
	assert.Empty(t, data)
	src.AssertNumberOfCalls(t, "ReadRange", 1)
}

func TestDescriptor_SizeFixedOnceKnown(t *testing.T) {
	t.Parallel()
	d := newTestDescriptor(&mocks.MockSource{})

	d.setSize(100)
	d.setSize(200)
	d.setSize(tempofs.UnknownSize)

	assert.Equal(t, int64(100), d.Size())
}

func TestDescriptor_ReadRangeRetry(t *testing.T) {
	t.Parallel()
	content := testContent(100)
	transient := &tempofs.ReadError{Kind: tempofs.ReadTransient, Status: 503}

	t.Run("TransientRetriedOnce", func(t *testing.T) {
		t.Parallel()
		src := probedSource(100)
		src.On("ReadRange", mock.Anything, int64(0), int64(10)).Return(nil, transient).Once()
		src.On("ReadRange", mock.Anything, int64(0), int64(10)).Return(rangeFrom(content), nil).Once()
		d := newTestDescriptor(src)

		data, err := d.Read(context.Background(), 0, 10)

		require.NoError(t, err)
		assert.Equal(t, content[:10], data)
		src.AssertNumberOfCalls(t, "ReadRange", 2)
	})

	t.Run("TransientTwice", func(t *testing.T) {
		t.Parallel()
		src := probedSource(100)
		src.On("ReadRange", mock.Anything, int64(0), int64(10)).Return(nil, transient)
		d := newTestDescriptor(src)

		_, err := d.Read(context.Background(), 0, 10)

		assert.ErrorIs(t, err, transient)
		src.AssertNumberOfCalls(t, "ReadRange", 2)
		assert.Equal(t, StateRangeCapable, d.State())
	})

	t.Run("ProtocolViolationNotRetried", func(t *testing.T) {
		t.Parallel()
		violation := &tempofs.ReadError{Kind: tempofs.ReadProtocolViolation, Status: 206}
		src := probedSource(100)
		src.On("ReadRange", mock.Anything, int64(0), int64(10)).Return(nil, violation)
		d := newTestDescriptor(src)

		_, err := d.Read(context.Background(), 0, 10)

		var rerr *tempofs.ReadError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, tempofs.ReadProtocolViolation, rerr.Kind)
		src.AssertNumberOfCalls(t, "ReadRange", 1)
	})

	t.Run("CanceledNotRetried", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		src := probedSource(100)
		src.On("ReadRange", mock.Anything, int64(0), int64(10)).Return(func(context.Context, int64, int64) *tempofs.RangeResult {
			cancel()
			return nil
		}, transient)
		d := newTestDescriptor(src)
		_, err := d.EnsureProbed(context.Background())
		require.NoError(t, err)

		_, err = d.Read(ctx, 0, 10)

		assert.Error(t, err)
		src.AssertNumberOfCalls(t, "ReadRange", 1)
		assert.Equal(t, StateRangeCapable, d.State())
	})
}

func TestDescriptor_Materialize(t *testing.T) {
	t.Parallel()
	content := testContent(50)

	t.Run("SingleFetchServesAllReads", func(t *testing.T) {
		t.Parallel()
		src := fallbackSource(50)
		src.On("FetchAll", mock.Anything).Return(content, nil).Once()
		d := newTestDescriptor(src)

		data, err := d.Read(context.Background(), 40, 20)
		require.NoError(t, err)
		assert.Equal(t, content[40:], data)
		assert.Equal(t, StateMaterialized, d.State())

		data, err = d.Read(context.Background(), 0, 10)
		require.NoError(t, err)
		assert.Equal(t, content[:10], data)

		data, err = d.Read(context.Background(), 50, 10)
		require.NoError(t, err)
		assert.Empty(t, data)

		src.AssertNumberOfCalls(t, "FetchAll", 1)
		src.AssertNotCalled(t, "ReadRange", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ConcurrentReadsShareFetch", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		src := fallbackSource(50)
		src.On("FetchAll", mock.Anything).Return(func(context.Context) []byte {
			<-release
			return content
		}, nil).Once()
		d := newTestDescriptor(src)

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Go(func() {
				data, err := d.Read(context.Background(), int64(i*5), 5)
				assert.NoError(t, err)
				assert.Equal(t, content[i*5:i*5+5], data)
			})
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		src.AssertNumberOfCalls(t, "FetchAll", 1)
	})

	t.Run("FailureNotCached", func(t *testing.T) {
		t.Parallel()
		fetchErr := &tempofs.FetchError{URL: "http://x/data.bin", Status: 500}
		src := fallbackSource(50)
		src.On("FetchAll", mock.Anything).Return(nil, fetchErr).Once()
		src.On("FetchAll", mock.Anything).Return(content, nil).Once()
		d := newTestDescriptor(src)

		_, err := d.Read(context.Background(), 0, 10)
		assert.ErrorIs(t, err, fetchErr)
		assert.Equal(t, StateFallbackRequired, d.State())

		data, err := d.Read(context.Background(), 0, 10)
		require.NoError(t, err)
		assert.Equal(t, content[:10], data)
		src.AssertNumberOfCalls(t, "FetchAll", 2)
	})

	t.Run("ReadAtKnownEndSkipsFetch", func(t *testing.T) {
		t.Parallel()
		src := fallbackSource(50)
		src.On("FetchAll", mock.Anything).Return(nil, &tempofs.FetchError{URL: "http://x/data.bin", Status: 503})
		d := newTestDescriptor(src)

		data, err := d.Read(context.Background(), 50, 10)

		require.NoError(t, err)
		assert.Empty(t, data)
		assert.Equal(t, StateFallbackRequired, d.State())
		src.AssertNotCalled(t, "FetchAll", mock.Anything)
	})

	t.Run("BodyLongerThanProbedSize", func(t *testing.T) {
		t.Parallel()
		src := fallbackSource(40)
		src.On("FetchAll", mock.Anything).Return(content, nil).Once()
		d := newTestDescriptor(src)

		data, err := d.Read(context.Background(), 30, 20)

		require.NoError(t, err)
		assert.Equal(t, content[30:40], data, "reads stop at the size reported by stat")
		assert.Equal(t, int64(40), d.Size())
	})

	t.Run("SizeFromBodyWhenUnknown", func(t *testing.T) {
		t.Parallel()
		src := fallbackSource(tempofs.UnknownSize)
		src.On("FetchAll", mock.Anything).Return(content, nil).Once()
		d := newTestDescriptor(src)

		_, err := d.Read(context.Background(), 0, 1)

		require.NoError(t, err)
		assert.Equal(t, int64(50), d.Size())
	})
}

func TestDescriptor_ReadMaxLength(t *testing.T) {
	t.Parallel()
	content := testContent(50)

	t.Run("Materialized", func(t *testing.T) {
		t.Parallel()
		src := fallbackSource(50)
		src.On("FetchAll", mock.Anything).Return(content, nil).Once()
		d := newTestDescriptor(src)

		data, err := d.Read(context.Background(), 10, math.MaxInt64)

		require.NoError(t, err)
		assert.Equal(t, content[10:], data)
	})

	t.Run("RangeUnknownSize", func(t *testing.T) {
		t.Parallel()
		src := probedSource(tempofs.UnknownSize)
		src.On("ReadRange", mock.Anything, mock.Anything, mock.Anything).Return(rangeFrom(content), nil)
		d := newTestDescriptor(src)

		data, err := d.Read(context.Background(), 10, math.MaxInt64)

		require.NoError(t, err)
		assert.Equal(t, content[10:], data)
		src.AssertCalled(t, "ReadRange", mock.Anything, int64(10), int64(math.MaxInt64-10))
	})
}

func TestDescriptor_ReadRangeSlicedByServer(t *testing.T) {
	t.Parallel()
	content := testContent(100)
	src := &mocks.MockSource{}
	src.On("Probe", mock.Anything).Return(&tempofs.ProbeResult{
		Size: 100, Support: tempofs.RangeSupported, AcceptRanges: "bytes",
	}, nil)
	src.On("ReadRange", mock.Anything, int64(20), int64(10)).
		Return(&tempofs.RangeResult{Data: content[20:30], TotalSize: 100, Sliced: true}, nil)
	d := newTestDescriptor(src)

	data, err := d.Read(context.Background(), 20, 10)

	require.NoError(t, err)
	assert.Equal(t, content[20:30], data)
	assert.Equal(t, StateRangeCapable, d.State(), "a sliced answer does not change the probed state")
	src.AssertNotCalled(t, "FetchAll", mock.Anything)
}

func TestDescriptor_Spans(t *testing.T) {
	t.Parallel()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	src := rangeCapableSource(testContent(100))
	d := newDescriptor(RootID+1, tempofs.NewEntry("data.bin", "http://x/data.bin", nil), src, tp.Tracer(tracerName))

	_, err := d.Read(context.Background(), 10, 10)
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "tempofs.Probe", spans[0].Name())
	assert.Equal(t, "tempofs.Read", spans[1].Name())
	assert.Contains(t, spans[1].Attributes(), BytesRead(10))
	assert.Contains(t, spans[1].Attributes(), DescriptorState(StateRangeCapable))
	assert.Contains(t, spans[0].Attributes(), FileSize(100))
}

func TestDescriptor_ErrorRecordedOnSpan(t *testing.T) {
	t.Parallel()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	src := &mocks.MockSource{}
	src.On("Probe", mock.Anything).Return(nil, errors.New("unreachable"))
	d := newDescriptor(RootID+1, tempofs.NewEntry("data.bin", "http://x/data.bin", nil), src, tp.Tracer(tracerName))

	_, err := d.Read(context.Background(), 0, 10)
	require.Error(t, err)

	for _, span := range sr.Ended() {
		require.NotEmpty(t, span.Events(), "span %s", span.Name())
		assert.Equal(t, "exception", span.Events()[0].Name)
	}
}

func TestSliceWindow(t *testing.T) {
	t.Parallel()
	body := []byte("0123456789")

	tests := []struct {
		offset, length int64
		want           string
	}{
		{0, 3, "012"},
		{8, 5, "89"},
		{10, 1, ""},
		{20, 1, ""},
		{4, math.MaxInt64, "456789"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, string(sliceWindow(body, tt.offset, tt.length)))
	}
}

func newTestDescriptor(src tempofs.Source) *Descriptor {
	entry := tempofs.NewEntry("data.bin", "http://example.com/data.bin", nil)
	return newDescriptor(RootID+1, entry, src, noop.NewTracerProvider().Tracer(tracerName))
}

// probedSource answers probes with a range capable resource of the given size.
func probedSource(size int64) *mocks.MockSource {
	src := &mocks.MockSource{}
	src.On("Probe", mock.Anything).
		Return(&tempofs.ProbeResult{Size: size, Support: tempofs.RangeSupported}, nil)
	return src
}

func rangeCapableSource(content []byte) *mocks.MockSource {
	src := probedSource(int64(len(content)))
	src.On("ReadRange", mock.Anything, mock.Anything, mock.Anything).Return(rangeFrom(content), nil)
	return src
}

func fallbackSource(size int64) *mocks.MockSource {
	src := &mocks.MockSource{}
	src.On("Probe", mock.Anything).
		Return(&tempofs.ProbeResult{Size: size, Support: tempofs.RangeUnsupported}, nil)
	return src
}

// rangeFrom serves ReadRange calls from content the way a compliant server would.
func rangeFrom(content []byte) func(context.Context, int64, int64) *tempofs.RangeResult {
	return func(_ context.Context, offset, length int64) *tempofs.RangeResult {
		total := int64(len(content))
		res := &tempofs.RangeResult{TotalSize: total}
		if offset < total {
			res.Data = content[offset:min(offset+length, total)]
		}
		return res
	}
}

func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}
