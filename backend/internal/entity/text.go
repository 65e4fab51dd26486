package entity

import (
	"strings"
	"unicode/utf8"
)

// ValidText 把非法 UTF-8 逐字节替换成 U+FFFD，与 JSON 编码器的处理方式一致，
// 这样页面内容在哈希、传输、落库时是同一份字节
func ValidText(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// ValidBlocks 返回 ID 和 Text 都是合法 UTF-8 的副本；本来就合法时原样返回
func ValidBlocks(blocks []Block) []Block {
	var out []Block
	for i, blk := range blocks {
		id, text := ValidText(blk.ID), ValidText(blk.Text)
		if out == nil && id == blk.ID && text == blk.Text {
			continue
		}
		if out == nil {
			out = append(make([]Block, 0, len(blocks)), blocks[:i]...)
		}
		out = append(out, Block{ID: id, Text: text})
	}
	if out == nil {
		return blocks
	}
	return out
}
