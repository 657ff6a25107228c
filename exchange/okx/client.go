package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"podmesh/logger"
)

const (
	// REST 地址（实盘与模拟盘相同，模拟盘通过请求头区分）
	DefaultRestURL = "https://www.okx.com"

	// 非 OKX 业务码的传输层错误码
	CodeNetwork = "NETWORK"
	CodeTimeout = "TIMEOUT"
)

// Error OKX 调用错误：业务码错误、HTTP 错误或传输层错误
type Error struct {
	Code       string // OKX 业务码（如 "51008"），传输层错误为 NETWORK / TIMEOUT
	Message    string
	Status     int           // HTTP 状态码，未收到响应时为 0
	RetryAfter time.Duration // Retry-After 响应头
	Err        error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("OKX 错误 code=%s http=%d: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("OKX 错误 code=%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Transport 是否为传输层错误（连接失败、超时）
func (e *Error) Transport() bool {
	return e.Code == CodeNetwork || e.Code == CodeTimeout
}

// Options 客户端选项
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // 每秒请求数
	RateBurst int
	Simulated bool // 模拟盘，附加 x-simulated-trading 头
}

// Client OKX REST API 客户端
type Client struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	simulated  bool
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewClient 创建 OKX 客户端
func NewClient(apiKey, secretKey, passphrase string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRestURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 25
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 30
	}
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		baseURL:    opts.BaseURL,
		simulated:  opts.Simulated,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		now:        time.Now,
	}
}

// Simulated 是否为模拟盘客户端
func (c *Client) Simulated() bool {
	return c.simulated
}

// sign 生成签名：base64(HMAC-SHA256(timestamp + METHOD + requestPath + body))
func (c *Client) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + method + requestPath + body
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// request 发送签名请求，requestPath 包含查询串
func (c *Client) request(ctx context.Context, method, requestPath string, body interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Code: CodeTimeout, Message: "等待限流令牌失败", Err: err}
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	timestamp := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
	signature := c.sign(timestamp, method, requestPath, string(bodyBytes))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", signature)
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}

	var apiResp struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	parseErr := json.Unmarshal(respBody, &apiResp)

	if resp.StatusCode != http.StatusOK {
		e := &Error{
			Code:       apiResp.Code,
			Message:    apiResp.Msg,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if parseErr != nil || e.Message == "" {
			e.Message = string(respBody)
		}
		return nil, e
	}
	if parseErr != nil {
		return nil, fmt.Errorf("解析响应失败: %w", parseErr)
	}
	if apiResp.Code != "0" {
		// 下单/撤单失败时 data 中带有逐笔的 sCode，一并返回
		return apiResp.Data, &Error{Code: apiResp.Code, Message: apiResp.Msg, Status: resp.StatusCode}
	}
	return apiResp.Data, nil
}

func transportError(err error) *Error {
	code := CodeNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = CodeTimeout
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}

// parseRetryAfter 支持秒数与 HTTP 日期两种格式
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// PlaceOrderRequest 下单参数
type PlaceOrderRequest struct {
	InstID     string `json:"instId"`
	TdMode     string `json:"tdMode"`
	Side       string `json:"side"`
	OrdType    string `json:"ordType"`
	Sz         string `json:"sz"`
	Px         string `json:"px,omitempty"`
	ClOrdID    string `json:"clOrdId"`
	Tag        string `json:"tag,omitempty"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

// PlaceOrderResult 下单结果
type PlaceOrderResult struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	Tag     string `json:"tag"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// PlaceOrder 下单。单笔被拒时（sCode 非 0）返回对应业务码的 *Error。
func (c *Client) PlaceOrder(ctx context.Context, order PlaceOrderRequest) (*PlaceOrderResult, error) {
	data, err := c.request(ctx, http.MethodPost, "/api/v5/trade/order", order)
	var results []PlaceOrderResult
	if len(data) > 0 {
		if uerr := json.Unmarshal(data, &results); uerr != nil && err == nil {
			return nil, fmt.Errorf("解析下单结果失败: %w", uerr)
		}
	}
	if len(results) == 0 {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("下单响应为空")
	}
	res := results[0]
	if res.SCode != "" && res.SCode != "0" {
		return &res, &Error{Code: res.SCode, Message: res.SMsg, Status: http.StatusOK}
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelOrderResult 撤单结果
type CancelOrderResult struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// CancelOrder 按 clientOrderId 撤单
func (c *Client) CancelOrder(ctx context.Context, instID, clOrdID string) (*CancelOrderResult, error) {
	body := map[string]string{"instId": instID, "clOrdId": clOrdID}
	data, err := c.request(ctx, http.MethodPost, "/api/v5/trade/cancel-order", body)
	var results []CancelOrderResult
	if len(data) > 0 {
		if uerr := json.Unmarshal(data, &results); uerr != nil && err == nil {
			return nil, fmt.Errorf("解析撤单结果失败: %w", uerr)
		}
	}
	if len(results) == 0 {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("撤单响应为空")
	}
	if results[0].SCode != "" && results[0].SCode != "0" {
		return &results[0], &Error{Code: results[0].SCode, Message: results[0].SMsg, Status: http.StatusOK}
	}
	return &results[0], nil
}

// Order 订单信息
type Order struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Tag       string `json:"tag"`
	InstID    string `json:"instId"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"` // 累计成交数量
	AvgPx     string `json:"avgPx"`     // 成交均价
	State     string `json:"state"`     // live / partially_filled / filled / canceled
	CTime     string `json:"cTime"`
	UTime     string `json:"uTime"`
}

// GetOrder 按 clientOrderId 查询订单
func (c *Client) GetOrder(ctx context.Context, instID, clOrdID string) (*Order, error) {
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("clOrdId", clOrdID)

	data, err := c.request(ctx, http.MethodGet, "/api/v5/trade/order?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var orders []Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("解析订单信息失败: %w", err)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("订单 %s 不存在", clOrdID)
	}
	return &orders[0], nil
}

// GetOpenOrders 查询未完成订单
func (c *Client) GetOpenOrders(ctx context.Context, instType string) ([]Order, error) {
	path := "/api/v5/trade/orders-pending"
	if instType != "" {
		path += "?instType=" + url.QueryEscape(instType)
	}
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var orders []Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("解析订单列表失败: %w", err)
	}
	return orders, nil
}

// Position 持仓信息
type Position struct {
	InstID  string `json:"instId"`
	Pos     string `json:"pos"`     // 持仓数量（净持仓模式下带符号）
	AvgPx   string `json:"avgPx"`   // 开仓均价
	MarkPx  string `json:"markPx"`  // 标记价格
	Lever   string `json:"lever"`   // 杠杆倍数
	MgnMode string `json:"mgnMode"` // 保证金模式
	PosSide string `json:"posSide"` // net / long / short
}

// GetPositions 获取持仓信息
func (c *Client) GetPositions(ctx context.Context, instType string) ([]Position, error) {
	path := "/api/v5/account/positions"
	if instType != "" {
		path += "?instType=" + url.QueryEscape(instType)
	}
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var positions []Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("解析持仓信息失败: %w", err)
	}
	return positions, nil
}

// BalanceDetail 币种余额
type BalanceDetail struct {
	Ccy      string `json:"ccy"`
	Eq       string `json:"eq"`       // 币种总权益
	AvailBal string `json:"availBal"` // 可用余额
	AvailEq  string `json:"availEq"`  // 可用保证金
}

// Balance 账户余额
type Balance struct {
	TotalEq string          `json:"totalEq"` // 美元计总权益
	Details []BalanceDetail `json:"details"`
}

// GetBalance 获取账户余额
func (c *Client) GetBalance(ctx context.Context) ([]Balance, error) {
	data, err := c.request(ctx, http.MethodGet, "/api/v5/account/balance", nil)
	if err != nil {
		return nil, err
	}
	var balances []Balance
	if err := json.Unmarshal(data, &balances); err != nil {
		return nil, fmt.Errorf("解析余额信息失败: %w", err)
	}
	return balances, nil
}

// Ticker 行情
type Ticker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Ts     string `json:"ts"`
}

// GetTicker 获取最新行情
func (c *Client) GetTicker(ctx context.Context, instID string) (*Ticker, error) {
	data, err := c.request(ctx, http.MethodGet, "/api/v5/market/ticker?instId="+url.QueryEscape(instID), nil)
	if err != nil {
		return nil, err
	}
	var tickers []Ticker
	if err := json.Unmarshal(data, &tickers); err != nil {
		return nil, fmt.Errorf("解析行情数据失败: %w", err)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("未找到 %s 的行情数据", instID)
	}
	logger.Debug("[OKX] %s 最新价 %s", instID, tickers[0].Last)
	return &tickers[0], nil
}
