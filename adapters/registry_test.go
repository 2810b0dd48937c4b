package adapters

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/tempofs"
	"github.com/brettbedarf/tempofs/config"
	"github.com/brettbedarf/tempofs/internal/mocks"
)

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	src := &mocks.MockSource{}
	r.Register("mem", staticFactory(src))

	got, err := r.NewSource(&tempofs.Entry{Name: "a", URL: "mem://bucket/a"})

	require.NoError(t, err)
	assert.Same(t, src, got)
	assert.True(t, r.Registered("MEM"), "scheme lookups are case-insensitive")
}

func TestRegistry_ReplacesFactory(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first, second := &mocks.MockSource{}, &mocks.MockSource{}
	r.Register("mem", staticFactory(first))
	r.Register("mem", staticFactory(second))

	got, err := r.NewSource(&tempofs.Entry{Name: "a", URL: "mem://x"})

	require.NoError(t, err)
	assert.Same(t, second, got, "later registration wins")
}

func TestRegistry_UnknownScheme(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	_, err := r.NewSource(&tempofs.Entry{Name: "a", URL: "gopher://x/a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "gopher")
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	boom := errors.New("boom")
	r.Register("mem", func(*tempofs.Entry) (tempofs.Source, error) { return nil, boom })

	_, err := r.NewSource(&tempofs.Entry{Name: "a", URL: "mem://x"})

	assert.ErrorIs(t, err, boom)
}

func TestRegistry_Concurrent(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	r := NewRegistry()

	for i := range 100 {
		wg.Go(func() {
			scheme := fmt.Sprintf("test%d", i)
			src := &mocks.MockSource{}
			r.Register(scheme, staticFactory(src))
			got, err := r.NewSource(&tempofs.Entry{Name: "a", URL: scheme + "://x"})
			assert.NoError(t, err)
			assert.Same(t, src, got)
		})
	}
	wg.Wait()
}

func TestRegisterBuiltinsWith(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	RegisterBuiltinsWith(r, config.NewDefaultConfig())

	assert.True(t, r.Registered("http"))
	assert.True(t, r.Registered("https"))

	src, err := r.NewSource(&tempofs.Entry{Name: "a", URL: "https://example.com/a"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPSource{}, src)
	assert.Equal(t, "https://example.com/a", src.URL())
}

func staticFactory(src tempofs.Source) tempofs.SourceFactory {
	return func(*tempofs.Entry) (tempofs.Source, error) { return src, nil }
}
