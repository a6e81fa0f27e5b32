package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateIsMonotoneAndStable(t *testing.T) {
	a := NewAllocator(DefaultConfig(), nil)

	p1, err := a.Allocate("blog-production", RoleProduction)
	require.NoError(t, err)
	p2, err := a.Allocate("shop-production", RoleProduction)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	again, err := a.Allocate("blog-production", RoleProduction)
	require.NoError(t, err)
	assert.Equal(t, p1, again, "allocation is stable for the lifetime of a name")
}

func TestProductionAndPreviewRangesDisjoint(t *testing.T) {
	a := NewAllocator(DefaultConfig(), nil)

	prod, err := a.Allocate("blog-production", RoleProduction)
	require.NoError(t, err)
	preview, err := a.Allocate("edit-1-blog-preview", RolePreview)
	require.NoError(t, err)

	assert.Less(t, prod, DefaultConfig().PreviewBase)
	assert.GreaterOrEqual(t, preview, DefaultConfig().PreviewBase)
}

func TestReleaseFreesPortForReuse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RangeSize = 1
	a := NewAllocator(cfg, nil)

	port, err := a.Allocate("a-production", RoleProduction)
	require.NoError(t, err)

	_, err = a.Allocate("b-production", RoleProduction)
	assert.ErrorIs(t, err, ErrExhausted)

	a.Release("a-production")

	reused, err := a.Allocate("b-production", RoleProduction)
	require.NoError(t, err)
	assert.Equal(t, port, reused)
}

func TestAllocateForSessionDerivesFromSessionID(t *testing.T) {
	a := NewAllocator(DefaultConfig(), nil)

	port, err := a.AllocateForSession("edit-1700000000500-blog-preview", 7)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().SessionBase+7, port)
}

func TestPreallocatedPortsAreNotReissued(t *testing.T) {
	a := NewAllocator(DefaultConfig(), map[string]int{"existing-production": 3001})

	port, err := a.Allocate("new-production", RoleProduction)
	require.NoError(t, err)
	assert.NotEqual(t, 3001, port)
}
