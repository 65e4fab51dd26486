package paginate

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"

	"github.com/ibraude/marktwo/backend/internal/entity"
)

// canonical 固定字段顺序、map key 排序、无多余空白，保证同内容同字节
var canonical = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// Paginate 把有序的 blocks 切成不超过 capacity 的连续分组，并为每组计算内容寻址 ID。
// 不做跨编辑的再平衡：插入一个 block 会让后续所有分组边界整体后移。
// 内容相同的分组得到同一个 ID，pages 中只保留一份，pageIDs 中按出现位置重复。
func Paginate(blocks []entity.Block, docID string, capacity int) (map[string]entity.Page, []string) {
	if capacity <= 0 {
		capacity = entity.DefaultPageCapacity
	}
	pages := make(map[string]entity.Page)
	pageIDs := make([]string, 0, (len(blocks)+capacity-1)/capacity)
	for _, chunk := range lo.Chunk(blocks, capacity) {
		page := entity.Page(entity.ValidBlocks(chunk))
		id := PageID(docID, page)
		pages[id] = page
		pageIDs = append(pageIDs, id)
	}
	return pages, pageIDs
}

// Canonical 页面的规范序列化。canonical 配置会原样写出非法 UTF-8，
// 而传输和存储用的编码器会把它换成 U+FFFD，所以先统一成合法文本
func Canonical(page entity.Page) ([]byte, error) {
	if page == nil {
		page = entity.Page{}
	}
	return canonical.Marshal(entity.ValidBlocks(page))
}

// ContentHash 规范序列化后的 xxhash64，16 位小写十六进制
func ContentHash(page entity.Page) string {
	b, err := Canonical(page)
	if err != nil {
		// Block 只有两个 string 字段，序列化不会失败
		panic(fmt.Sprintf("paginate: canonical encode: %v", err))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

func PageID(docID string, page entity.Page) string {
	return docID + "." + ContentHash(page)
}

// DocumentIDOf 取页面 ID 中最后一个 "." 之前的部分
func DocumentIDOf(pageID string) (string, bool) {
	i := strings.LastIndex(pageID, ".")
	if i <= 0 || i == len(pageID)-1 {
		return "", false
	}
	return pageID[:i], true
}

// Verify 重新计算 hash，与声明的页面 ID 不一致时返回 ErrHashMismatch
func Verify(pageID string, page entity.Page) error {
	docID, ok := DocumentIDOf(pageID)
	if !ok {
		return fmt.Errorf("page %q: %w", pageID, entity.ErrHashMismatch)
	}
	if got := PageID(docID, page); got != pageID {
		return fmt.Errorf("page %q recomputed as %q: %w", pageID, got, entity.ErrHashMismatch)
	}
	return nil
}

// Flatten 按 pageIDs 顺序拼接页面
func Flatten(pages map[string]entity.Page, pageIDs []string) []entity.Block {
	out := make([]entity.Block, 0, len(pageIDs)*entity.DefaultPageCapacity)
	for _, id := range pageIDs {
		out = append(out, pages[id]...)
	}
	return out
}
