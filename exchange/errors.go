package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Category 交易所错误分类
type Category string

const (
	CategoryAuthentication      Category = "AUTHENTICATION"
	CategoryRateLimit           Category = "RATE_LIMIT"
	CategoryInsufficientBalance Category = "INSUFFICIENT_BALANCE"
	CategoryInvalidOrder        Category = "INVALID_ORDER"
	CategoryNetwork             Category = "NETWORK"
	CategoryServer              Category = "SERVER"
	CategoryUnknown             Category = "UNKNOWN"
)

// Retriable 只有网络、限流、服务端错误可以重试
func Retriable(c Category) bool {
	switch c {
	case CategoryNetwork, CategoryRateLimit, CategoryServer:
		return true
	}
	return false
}

// Critical 需要人工介入的错误（凭证失效）
func Critical(c Category) bool {
	return c == CategoryAuthentication
}

// APIError 已分类的交易所错误
type APIError struct {
	Op         string
	Category   Category
	Code       string
	Message    string
	HTTPStatus int
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code=%s): %s", e.Op, e.Category, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Category, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retriable 是否可重试
func (e *APIError) Retriable() bool { return Retriable(e.Category) }

// ErrorInfo 分类输入：业务码、HTTP 状态码、是否为传输层错误
type ErrorInfo struct {
	Code       string
	HTTPStatus int
	Transport  bool
}

type classifyRule struct {
	category Category
	match    func(code int, hasCode bool, info ErrorInfo) bool
}

func codeIn(lo, hi int) func(int, bool, ErrorInfo) bool {
	return func(code int, hasCode bool, _ ErrorInfo) bool {
		return hasCode && code >= lo && code <= hi
	}
}

// classifyRules 有序规则表，第一条命中的规则生效
var classifyRules = []classifyRule{
	{CategoryAuthentication, codeIn(50100, 50113)},
	{CategoryRateLimit, func(code int, hasCode bool, info ErrorInfo) bool {
		return (hasCode && (code == 50011 || code == 50061)) || info.HTTPStatus == 429
	}},
	{CategoryInsufficientBalance, codeIn(51008, 51008)},
	{CategoryInvalidOrder, codeIn(51000, 51999)},
	{CategoryNetwork, func(_ int, _ bool, info ErrorInfo) bool { return info.Transport }},
	{CategoryServer, func(code int, hasCode bool, info ErrorInfo) bool {
		return (hasCode && code >= 50000 && code <= 59999) || info.HTTPStatus >= 500
	}},
}

// ClassifyInfo 按规则表对错误信息分类
func ClassifyInfo(info ErrorInfo) Category {
	code, err := strconv.Atoi(info.Code)
	hasCode := err == nil
	for _, rule := range classifyRules {
		if rule.match(code, hasCode, info) {
			return rule.category
		}
	}
	return CategoryUnknown
}

// Classification 分类结果
type Classification struct {
	Category   Category
	RetryAfter time.Duration
}

// Classifier 可注入的错误分类函数
type Classifier func(err error) Classification

// Classify 默认分类器：优先读取 *APIError，其次识别超时与网络错误
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return Classification{Category: apiErr.Category, RetryAfter: apiErr.RetryAfter}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Category: CategoryUnknown}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Category: CategoryNetwork}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Category: CategoryNetwork}
	}
	return Classification{Category: CategoryUnknown}
}
