package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibraude/marktwo/backend/internal/entity"
)

func TestMemory_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetMetadata(ctx, "doc1")
	require.ErrorIs(t, err, entity.ErrNotFound)

	// 不存在的文档按 revision 0 处理
	got, ok, err := m.CompareAndSwap(ctx, "doc1", 0, entity.DocumentMetadata{PageIDs: []string{"doc1.a"}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), got.Revision)

	// 旧 revision 被拒绝，返回当前记录
	got, ok, err = m.CompareAndSwap(ctx, "doc1", 0, entity.DocumentMetadata{PageIDs: []string{"doc1.b"}})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), got.Revision)
	assert.Equal(t, []string{"doc1.a"}, got.PageIDs)

	got, ok, err = m.CompareAndSwap(ctx, "doc1", 1, entity.DocumentMetadata{PageIDs: []string{"doc1.b"}, Revision: 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), got.Revision)
}

func TestMemory_InitMetadata(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	meta, err := m.InitMetadata(ctx, "doc1", entity.DefaultMetadata())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), meta.Revision)
	assert.NotNil(t, meta.PageIDs)

	_, _, err = m.CompareAndSwap(ctx, "doc1", 0, entity.DocumentMetadata{PageIDs: []string{"doc1.a"}})
	require.NoError(t, err)

	// 已存在时不覆盖
	meta, err = m.InitMetadata(ctx, "doc1", entity.DefaultMetadata())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), meta.Revision)
	assert.Equal(t, []string{"doc1.a"}, meta.PageIDs)
}

func TestMemory_Pages(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	page := entity.Page{{ID: "a", Text: "hello"}}

	require.NoError(t, m.CreatePage(ctx, "doc1", "doc1.x", page))
	require.NoError(t, m.CreatePage(ctx, "doc1", "doc1.x", page))
	assert.Equal(t, 1, m.PageCount())

	got, err := m.GetPage(ctx, "doc1.x")
	require.NoError(t, err)
	assert.Equal(t, page, got)

	_, err = m.GetPage(ctx, "doc1.y")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}
