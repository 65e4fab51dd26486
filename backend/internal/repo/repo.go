package repo

import (
	"context"

	"github.com/ibraude/marktwo/backend/internal/entity"
)

// PageRepo 远端的页面存储；页面不可变，重复创建同一 ID 视为成功
type PageRepo interface {
	GetPage(ctx context.Context, pageID string) (entity.Page, error)
	CreatePage(ctx context.Context, docID, pageID string, page entity.Page) error
}

// MetadataRepo 远端的文档元数据存储，是唯一带版本的可变记录
type MetadataRepo interface {
	// GetMetadata 不存在返回 entity.ErrNotFound
	GetMetadata(ctx context.Context, docID string) (entity.DocumentMetadata, error)

	// CompareAndSwap 当前 revision == expected 时写入 next（revision 由实现设为 expected+1），
	// 返回写入后的记录和 true；否则不写，返回当前记录和 false。
	// 文档不存在时按 revision 0 处理。
	CompareAndSwap(ctx context.Context, docID string, expected uint64, next entity.DocumentMetadata) (entity.DocumentMetadata, bool, error)

	// InitMetadata 不存在时写入 defaults，返回当前记录
	InitMetadata(ctx context.Context, docID string, defaults entity.DocumentMetadata) (entity.DocumentMetadata, error)
}
