package entity

import (
	"encoding/json"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidText(t *testing.T) {
	assert.Equal(t, "café", ValidText("café"))
	assert.Equal(t, "caf�", ValidText("caf\xe9"))
	// 每个非法字节各替换一次
	assert.Equal(t, "a��b", ValidText("a\xff\xfeb"))
}

// 服务端（gin 用标准库）和客户端（jsoniter）解出来的文本都应等于 ValidText 的结果
func TestValidText_MatchesJSONEncoding(t *testing.T) {
	compat := jsoniter.ConfigCompatibleWithStandardLibrary
	for _, s := range []string{"caf\xe9", "a\xff\xfeb", "\xc3", "ok"} {
		raw, err := json.Marshal(s)
		require.NoError(t, err)
		var got string
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, ValidText(s), got, "encoding/json %q", s)

		raw, err = compat.Marshal(s)
		require.NoError(t, err)
		got = ""
		require.NoError(t, compat.Unmarshal(raw, &got))
		assert.Equal(t, ValidText(s), got, "jsoniter %q", s)
	}
}

func TestValidBlocks(t *testing.T) {
	in := []Block{{ID: "a", Text: "fine"}, {ID: "b", Text: "caf\xe9"}}
	out := ValidBlocks(in)
	assert.Equal(t, []Block{{ID: "a", Text: "fine"}, {ID: "b", Text: "caf�"}}, out)
	assert.Equal(t, "caf\xe9", in[1].Text, "input must not be modified")

	clean := []Block{{ID: "a", Text: "x"}}
	assert.Equal(t, clean, ValidBlocks(clean))
}
