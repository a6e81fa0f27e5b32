package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	routes map[string]int
	calls  int
}

func (s *stubSource) GetRouteBySubdomain(subdomain string) (int, bool, error) {
	s.calls++
	port, ok := s.routes[subdomain]
	if !ok {
		return 0, false, nil
	}
	return port, true, nil
}

func TestLookupFallsBackToSourceOnMiss(t *testing.T) {
	src := &stubSource{routes: map[string]int{"blog.dev.local": 3001}}
	c := NewRouteCache(src, Config{TTL: time.Minute})

	port, ok := c.Lookup("blog.dev.local")
	require.True(t, ok)
	assert.Equal(t, 3001, port)
	assert.Equal(t, 1, src.calls)

	// second lookup is served from memory, not the source
	_, ok = c.Lookup("blog.dev.local")
	require.True(t, ok)
	assert.Equal(t, 1, src.calls)
}

func TestLookupMissReturnsFalse(t *testing.T) {
	src := &stubSource{routes: map[string]int{}}
	c := NewRouteCache(src, Config{TTL: time.Minute})

	_, ok := c.Lookup("nope.dev.local")
	assert.False(t, ok)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	src := &stubSource{routes: map[string]int{"blog.dev.local": 3001}}
	c := NewRouteCache(src, Config{TTL: time.Millisecond})

	_, ok := c.Lookup("blog.dev.local")
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	src.routes["blog.dev.local"] = 3002

	port, ok := c.Lookup("blog.dev.local")
	require.True(t, ok)
	assert.Equal(t, 3002, port)
	assert.Equal(t, 2, src.calls)
}

func TestInvalidateForcesNextLookupToSource(t *testing.T) {
	src := &stubSource{routes: map[string]int{"blog.dev.local": 3001}}
	c := NewRouteCache(src, Config{TTL: time.Minute})

	_, _ = c.Lookup("blog.dev.local")
	c.Invalidate("blog.dev.local")

	src.routes["blog.dev.local"] = 3002
	port, ok := c.Lookup("blog.dev.local")
	require.True(t, ok)
	assert.Equal(t, 3002, port)
}
