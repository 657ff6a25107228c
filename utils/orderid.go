package utils

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// MaxClientOrderIDLen OKX clOrdId 最长 32 位，只允许字母和数字
const MaxClientOrderIDLen = 32

// 订单用途标记，拼在 pod 前缀之后
const (
	TagTrade     = ""
	TagSafe      = "SAFE"
	TagReconcile = "REC"
)

// NewClientOrderID 生成客户端订单号：pod 前缀 + 用途标记 + 随机十六进制串。
// 非字母数字字符会被去掉，结果截断到 32 位，DryRun 与 OKX 使用同一格式。
func NewClientOrderID(prefix, tag string) string {
	head := alnum(prefix) + alnum(tag)
	if len(head) > MaxClientOrderIDLen-12 {
		head = head[:MaxClientOrderIDLen-12]
	}
	id := head + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) > MaxClientOrderIDLen {
		id = id[:MaxClientOrderIDLen]
	}
	return id
}

// HasTag 判断订单号是否由指定前缀和用途标记生成
func HasTag(clientOrderID, prefix, tag string) bool {
	return strings.HasPrefix(clientOrderID, alnum(prefix)+alnum(tag))
}

func alnum(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, s)
}
