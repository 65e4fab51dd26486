package assemble

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/ibraude/marktwo/backend/internal/entity"
)

// PageSource 按 ID 批量取页面，结果与 pageIDs 顺序一致（pagestore.PageStore 实现）
type PageSource interface {
	GetPages(ctx context.Context, pageIDs []string) ([]entity.Page, error)
}

type Assembler struct {
	pages PageSource
}

func New(pages PageSource) *Assembler {
	return &Assembler{pages: pages}
}

// Assemble 并行获取 meta.PageIDs 的全部页面，再按 PageIDs 顺序拼接。
// 获取的快慢不会影响输出顺序；任意一页失败则整体失败，不返回半成品。
// PageIDs 为空时返回只有一个空 block 的占位文档（编辑器不能显示零个 block）。
// CaretAt 只有在重建后的文档里存在时才保留。
func (a *Assembler) Assemble(ctx context.Context, docID string, meta entity.DocumentMetadata) (entity.Document, error) {
	if len(meta.PageIDs) == 0 {
		return Placeholder(docID), nil
	}

	pages, err := a.pages.GetPages(ctx, meta.PageIDs)
	if err != nil {
		return entity.Document{}, fmt.Errorf("assemble %s: %w", docID, err)
	}

	n := 0
	for _, p := range pages {
		n += len(p)
	}
	doc := entity.Document{Blocks: make([]entity.Block, 0, n)}
	for _, p := range pages {
		doc.Blocks = append(doc.Blocks, p...)
	}
	if meta.CaretAt != "" && doc.HasBlock(meta.CaretAt) {
		doc.CaretAt = meta.CaretAt
	}
	return doc, nil
}

// Placeholder 空文档的占位 block；ID 由 docID 派生，同一文档多次组装结果相同
func Placeholder(docID string) entity.Document {
	id := fmt.Sprintf("empty-%016x", xxhash.Sum64String(docID))
	return entity.Document{Blocks: []entity.Block{{ID: id, Text: ""}}}
}
