// Package blocktext 在 markdown 纯文本和 block 列表之间转换。
// 段落（以空行分隔）对应一个 block。
package blocktext

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/ibraude/marktwo/backend/internal/entity"
)

const separator = "\n\n"

// Split 把文本切成 block，并尽量沿用 prev 中的 block id：
// 文本未变的段落保持原 id；原位置被改写的段落沿用被替换段落的 id；
// 新插入的段落分配新 id。
func Split(text string, prev []entity.Block) []entity.Block {
	parts := paragraphs(text)
	if len(parts) == 0 {
		return []entity.Block{}
	}

	prevTexts := make([]string, len(prev))
	for i, b := range prev {
		prevTexts[i] = b.Text
	}

	out := make([]entity.Block, len(parts))
	m := difflib.NewMatcher(prevTexts, parts)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for k := 0; k < op.J2-op.J1; k++ {
				out[op.J1+k] = entity.Block{ID: prev[op.I1+k].ID, Text: parts[op.J1+k]}
			}
		case 'r':
			for k := 0; k < op.J2-op.J1; k++ {
				id := entity.NewBlockID()
				if op.I1+k < op.I2 {
					id = prev[op.I1+k].ID
				}
				out[op.J1+k] = entity.Block{ID: id, Text: parts[op.J1+k]}
			}
		case 'i':
			for k := op.J1; k < op.J2; k++ {
				out[k] = entity.Block{ID: entity.NewBlockID(), Text: parts[k]}
			}
		}
	}
	return out
}

// Join 以空行拼接各 block 的文本；空文本的 block（占位）不输出
func Join(blocks []entity.Block) string {
	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text == "" {
			continue
		}
		texts = append(texts, b.Text)
	}
	if len(texts) == 0 {
		return ""
	}
	return strings.Join(texts, separator) + "\n"
}

func paragraphs(text string) []string {
	// 非 UTF-8 文件（如 Latin-1）里的非法字节换成 U+FFFD
	text = entity.ValidText(strings.ReplaceAll(text, "\r\n", "\n"))
	var out []string
	for _, p := range strings.Split(text, separator) {
		p = strings.Trim(p, "\n")
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
