package entity

import (
	"slices"
	"time"
)

// DocumentMetadata 每个文档唯一的、带版本号的可变记录。
// PageIDs 的顺序就是文档顺序，页面本身由它派生。
type DocumentMetadata struct {
	PageIDs      []string  `json:"pageIds"`
	Revision     uint64    `json:"revision"`
	CaretAt      string    `json:"caretAt,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

func DefaultMetadata() DocumentMetadata {
	return DocumentMetadata{PageIDs: []string{}, Revision: 0}
}

// Validate 加载时检查必填字段，缺失时调用方回退到 DefaultMetadata
func (m DocumentMetadata) Validate() error {
	if m.PageIDs == nil {
		return ErrMalformedMetadata
	}
	return nil
}

func (m DocumentMetadata) Clone() DocumentMetadata {
	out := m
	out.PageIDs = slices.Clone(m.PageIDs)
	if out.PageIDs == nil {
		out.PageIDs = []string{}
	}
	return out
}

// SamePages 只比较页面列表（含顺序），不看 revision/caret
func (m DocumentMetadata) SamePages(other DocumentMetadata) bool {
	return slices.Equal(m.PageIDs, other.PageIDs)
}

// Document 仅存在于内存：按 PageIDs 顺序拼接全部页面得到的 Block 序列
type Document struct {
	Blocks  []Block
	CaretAt string
}

func (d Document) Equal(other Document) bool {
	return d.CaretAt == other.CaretAt && slices.Equal(d.Blocks, other.Blocks)
}

func (d Document) Clone() Document {
	return Document{Blocks: slices.Clone(d.Blocks), CaretAt: d.CaretAt}
}

// HasBlock 判断 blockID 是否属于当前文档
func (d Document) HasBlock(blockID string) bool {
	return slices.ContainsFunc(d.Blocks, func(b Block) bool { return b.ID == blockID })
}
