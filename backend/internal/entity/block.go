package entity

import (
	"github.com/oklog/ulid/v2"
)

// Block 文档内容的最小单元，身份由 ID 决定，Text 为 markdown 文本
type Block struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Page 最多 DefaultPageCapacity 个 Block 的有序分组，创建后不可变
type Page []Block

const DefaultPageCapacity = 100

// NewBlockID 为第一次出现的内容单元分配 ID
func NewBlockID() string {
	return ulid.Make().String()
}
