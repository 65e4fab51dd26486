package remote

import (
	"context"

	"github.com/ibraude/marktwo/backend/internal/entity"
)

// Remote 远端存储协作方接口。
// 服务端 service.SyncService 直接实现它（进程内），客户端通过 HTTPClient 访问。
type Remote interface {
	FetchMetadata(ctx context.Context, docID string) (entity.DocumentMetadata, error)
	FetchPage(ctx context.Context, pageID string) (entity.Page, error)
	CreatePage(ctx context.Context, pageID string, page entity.Page) error

	// SyncByRevision 乐观并发提交：
	// - meta.Revision 与远端一致：远端以 revision+1 持久化并返回（accepted）
	// - 不一致：丢弃提交，原样返回远端当前的元数据（conflict）
	SyncByRevision(ctx context.Context, docID string, meta entity.DocumentMetadata) (entity.DocumentMetadata, error)

	// InitializeData 远端没有元数据时以 defaults 创建，返回远端当前的元数据
	InitializeData(ctx context.Context, docID string, defaults entity.DocumentMetadata) (entity.DocumentMetadata, error)
}

// CommitNotice 远端每次接受提交后推送给订阅者的通知
type CommitNotice struct {
	Type     string   `json:"type"` // 固定 "metadata_committed"
	DocID    string   `json:"docId"`
	Revision uint64   `json:"revision"`
	PageIDs  []string `json:"pageIds"`
}

const NoticeMetadataCommitted = "metadata_committed"
