package repo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibraude/marktwo/backend/internal/cache"
	"github.com/ibraude/marktwo/backend/internal/entity"
)

// countingPages 记录回源次数
type countingPages struct {
	PageRepo
	gets atomic.Int32
}

func (c *countingPages) GetPage(ctx context.Context, pageID string) (entity.Page, error) {
	c.gets.Add(1)
	return c.PageRepo.GetPage(ctx, pageID)
}

func TestCachedPageRepo_ReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingPages{PageRepo: NewMemory()}
	kv := cache.NewMemoryKV()
	r := NewCachedPageRepo(inner, kv)

	page := entity.Page{{ID: "a", Text: "hello"}}
	require.NoError(t, r.CreatePage(ctx, "doc1", "doc1.p1", page))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.GetPage(ctx, "doc1.p1")
			assert.NoError(t, err)
			assert.Equal(t, page, got)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inner.gets.Load())

	_, err := kv.Get(ctx, cache.StorePageKey("doc1.p1"))
	assert.NoError(t, err)
}

func TestCachedPageRepo_NullMarker(t *testing.T) {
	ctx := context.Background()
	inner := &countingPages{PageRepo: NewMemory()}
	r := NewCachedPageRepo(inner, cache.NewMemoryKV())

	for i := 0; i < 3; i++ {
		_, err := r.GetPage(ctx, "doc1.p1")
		assert.True(t, errors.Is(err, entity.ErrNotFound))
	}
	// 空值标记挡住了后续回源
	assert.Equal(t, int32(1), inner.gets.Load())

	// 创建后清掉空值标记
	page := entity.Page{{ID: "a", Text: "hello"}}
	require.NoError(t, r.CreatePage(ctx, "doc1", "doc1.p1", page))
	got, err := r.GetPage(ctx, "doc1.p1")
	require.NoError(t, err)
	assert.Equal(t, page, got)
	assert.Equal(t, int32(2), inner.gets.Load())
}
