package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyInfoTable(t *testing.T) {
	tests := []struct {
		name string
		info ErrorInfo
		want Category
	}{
		{"凭证错误下界", ErrorInfo{Code: "50100"}, CategoryAuthentication},
		{"凭证错误上界", ErrorInfo{Code: "50113"}, CategoryAuthentication},
		{"限流业务码", ErrorInfo{Code: "50011"}, CategoryRateLimit},
		{"限流业务码2", ErrorInfo{Code: "50061"}, CategoryRateLimit},
		{"HTTP 429", ErrorInfo{HTTPStatus: 429}, CategoryRateLimit},
		{"余额不足", ErrorInfo{Code: "51008"}, CategoryInsufficientBalance},
		{"无效订单", ErrorInfo{Code: "51000"}, CategoryInvalidOrder},
		{"无效订单上界", ErrorInfo{Code: "51999"}, CategoryInvalidOrder},
		{"传输层错误", ErrorInfo{Code: "NETWORK", Transport: true}, CategoryNetwork},
		{"服务端业务码", ErrorInfo{Code: "50001"}, CategoryServer},
		{"HTTP 503", ErrorInfo{HTTPStatus: 503}, CategoryServer},
		{"未知", ErrorInfo{Code: "1"}, CategoryUnknown},
		{"空", ErrorInfo{}, CategoryUnknown},
		// 规则有序：限流码优先于 5xxxx 服务端区间
		{"限流优先于服务端", ErrorInfo{Code: "50011", HTTPStatus: 500}, CategoryRateLimit},
		{"凭证优先于 HTTP 5xx", ErrorInfo{Code: "50101", HTTPStatus: 500}, CategoryAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyInfo(tt.info))
		})
	}
}

func TestRetriableIsPureFunctionOfCategory(t *testing.T) {
	retriable := map[Category]bool{
		CategoryAuthentication:      false,
		CategoryRateLimit:           true,
		CategoryInsufficientBalance: false,
		CategoryInvalidOrder:        false,
		CategoryNetwork:             true,
		CategoryServer:              true,
		CategoryUnknown:             false,
	}
	for c, want := range retriable {
		assert.Equal(t, want, Retriable(c), string(c))
	}
	assert.True(t, Critical(CategoryAuthentication))
	assert.False(t, Critical(CategoryServer))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	apiErr := &APIError{Op: "op", Category: CategoryRateLimit, RetryAfter: time.Second}
	c := Classify(fmt.Errorf("包装: %w", apiErr))
	assert.Equal(t, CategoryRateLimit, c.Category)
	assert.Equal(t, time.Second, c.RetryAfter)

	assert.Equal(t, CategoryNetwork, Classify(context.DeadlineExceeded).Category)
	assert.Equal(t, CategoryNetwork, Classify(timeoutErr{}).Category)
	assert.Equal(t, CategoryUnknown, Classify(context.Canceled).Category)
	assert.Equal(t, CategoryUnknown, Classify(errors.New("boom")).Category)
}
