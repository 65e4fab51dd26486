package blocktext

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibraude/marktwo/backend/internal/entity"
)

func texts(blocks []entity.Block) []string {
	return lo.Map(blocks, func(b entity.Block, _ int) string { return b.Text })
}

func TestSplit_Paragraphs(t *testing.T) {
	blocks := Split("# title\n\nfirst line\nsecond line\n\n\n\nlast\n", nil)
	assert.Equal(t, []string{"# title", "first line\nsecond line", "last"}, texts(blocks))

	ids := lo.Map(blocks, func(b entity.Block, _ int) string { return b.ID })
	assert.Len(t, lo.Uniq(ids), 3)
	for _, id := range ids {
		assert.NotEmpty(t, id)
	}
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split("", nil))
	assert.Empty(t, Split("\n\n  \n\n", nil))
}

func TestSplit_ReusesIDs(t *testing.T) {
	prev := []entity.Block{
		{ID: "a", Text: "alpha"},
		{ID: "b", Text: "beta"},
		{ID: "c", Text: "gamma"},
	}

	t.Run("unchanged", func(t *testing.T) {
		got := Split("alpha\n\nbeta\n\ngamma\n", prev)
		assert.Equal(t, prev, got)
	})

	t.Run("edit keeps id", func(t *testing.T) {
		got := Split("alpha\n\nbeta, edited\n\ngamma\n", prev)
		require.Len(t, got, 3)
		assert.Equal(t, entity.Block{ID: "b", Text: "beta, edited"}, got[1])
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "c", got[2].ID)
	})

	t.Run("insert gets new id", func(t *testing.T) {
		got := Split("alpha\n\nnew\n\nbeta\n\ngamma\n", prev)
		require.Len(t, got, 4)
		assert.Equal(t, "a", got[0].ID)
		assert.NotContains(t, []string{"a", "b", "c"}, got[1].ID)
		assert.Equal(t, "b", got[2].ID)
		assert.Equal(t, "c", got[3].ID)
	})

	t.Run("delete", func(t *testing.T) {
		got := Split("alpha\n\ngamma\n", prev)
		assert.Equal(t, []entity.Block{{ID: "a", Text: "alpha"}, {ID: "c", Text: "gamma"}}, got)
	})
}

func TestJoin(t *testing.T) {
	blocks := []entity.Block{{ID: "a", Text: "alpha"}, {ID: "p", Text: ""}, {ID: "b", Text: "beta"}}
	assert.Equal(t, "alpha\n\nbeta\n", Join(blocks))
	assert.Equal(t, "", Join([]entity.Block{{ID: "p"}}))

	// Join 之后再 Split 得到同样的 block
	again := Split(Join(blocks), blocks)
	assert.Equal(t, []entity.Block{{ID: "a", Text: "alpha"}, {ID: "b", Text: "beta"}}, again)
}

func TestSplit_InvalidUTF8(t *testing.T) {
	blocks := Split("caf\xe9\n\nok\n", nil)
	require.Len(t, blocks, 2)
	assert.Equal(t, "caf�", blocks[0].Text)
	assert.Equal(t, "ok", blocks[1].Text)
}
