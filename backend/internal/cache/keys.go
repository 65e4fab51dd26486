package cache

import "fmt"

// 键语义：
// - PageKey(pageID):  页面内容（String，JSON 序列化的 []Block），内容寻址，不可变
// - MetaKey(docID):   文档元数据（String，JSON 序列化的 DocumentMetadata），每个文档一条
// - StorePageKey(pageID): 服务端页面读缓存，"-" 表示页面不存在（空值标记）

// 页面 page:String
// 元数据 meta:String

const (
	keyPageFmt = "marktwo:page:%s" // String JSON
	keyMetaFmt = "marktwo:meta:%s" // String JSON

	keyStorePageFmt = "marktwo:store:page:{%s}" // String JSON / 空值标记
)

func PageKey(pageID string) string { return fmt.Sprintf(keyPageFmt, pageID) }
func MetaKey(docID string) string  { return fmt.Sprintf(keyMetaFmt, docID) }

func StorePageKey(pageID string) string { return fmt.Sprintf(keyStorePageFmt, pageID) }
