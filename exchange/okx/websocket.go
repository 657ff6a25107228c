package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"podmesh/logger"
)

const (
	MainnetPublicWsURL = "wss://ws.okx.com:8443/ws/v5/public"
	TestnetPublicWsURL = "wss://wspap.okx.com:8443/ws/v5/public"
)

// TickerUpdate tickers 频道推送的最新价
type TickerUpdate struct {
	InstID string
	Last   float64
	At     time.Time
}

// TickerStream 公共行情 tickers 频道，断线后按指数退避重连
type TickerStream struct {
	url        string
	instID     string
	pingEvery  time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	lastPrice atomic.Value
	running   atomic.Bool
}

// NewTickerStream 创建行情流，url 为空时按 simulated 选择主网或模拟盘地址
func NewTickerStream(url, instID string, simulated bool) *TickerStream {
	if url == "" {
		url = MainnetPublicWsURL
		if simulated {
			url = TestnetPublicWsURL
		}
	}
	return &TickerStream{
		url:        url,
		instID:     instID,
		pingEvery:  20 * time.Second,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
}

// Run 阻塞运行直到 ctx 取消，每条最新价回调一次
func (s *TickerStream) Run(ctx context.Context, callback func(TickerUpdate)) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("行情流已在运行")
	}
	defer s.running.Store(false)

	attempt := 0
	for {
		err := s.session(ctx, callback)
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		wait := s.backoff(attempt)
		logger.Warn("⚠️ [OKX WebSocket] 行情流断开: %v，%v 后重连（第 %d 次）", err, wait, attempt)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// LatestPrice 最近一次推送的价格
func (s *TickerStream) LatestPrice() float64 {
	if v := s.lastPrice.Load(); v != nil {
		return v.(float64)
	}
	return 0
}

func (s *TickerStream) backoff(attempt int) time.Duration {
	wait := s.minBackoff
	for i := 1; i < attempt && wait < s.maxBackoff; i++ {
		wait *= 2
	}
	if wait > s.maxBackoff {
		wait = s.maxBackoff
	}
	delta := float64(wait) * 0.2
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

func (s *TickerStream) session(ctx context.Context, callback func(TickerUpdate)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("连接行情 WebSocket 失败: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []map[string]string{{"channel": "tickers", "instId": s.instID}},
	}
	if err := s.write(func(c *websocket.Conn) error { return c.WriteJSON(sub) }); err != nil {
		return fmt.Errorf("订阅 tickers 失败: %w", err)
	}
	logger.Info("✅ [OKX WebSocket] 已订阅 %s 行情", s.instID)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.keepAlive(sessionCtx)
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if update, ok := parseTicker(message); ok {
			s.lastPrice.Store(update.Last)
			callback(update)
		}
	}
}

func (s *TickerStream) write(fn func(*websocket.Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}
	return fn(s.conn)
}

func (s *TickerStream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.write(func(c *websocket.Conn) error {
				return c.WriteMessage(websocket.TextMessage, []byte("ping"))
			})
			if err != nil {
				logger.Warn("⚠️ [OKX WebSocket] 发送 ping 失败: %v", err)
			}
		}
	}
}

type tickerMessage struct {
	Event string `json:"event"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
	} `json:"arg"`
	Data []Ticker `json:"data"`
}

// parseTicker 解析 tickers 推送，忽略 pong、订阅确认等其它消息
func parseTicker(message []byte) (TickerUpdate, bool) {
	if string(message) == "pong" {
		return TickerUpdate{}, false
	}
	var msg tickerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		logger.Debug("[OKX WebSocket] 无法解析的消息: %s", string(message))
		return TickerUpdate{}, false
	}
	if msg.Event == "error" {
		logger.Error("❌ [OKX WebSocket] 错误: %s", msg.Msg)
		return TickerUpdate{}, false
	}
	if msg.Arg.Channel != "tickers" || len(msg.Data) == 0 {
		return TickerUpdate{}, false
	}
	t := msg.Data[0]
	last, err := strconv.ParseFloat(t.Last, 64)
	if err != nil || last <= 0 {
		return TickerUpdate{}, false
	}
	at := time.Now()
	if ms, err := strconv.ParseInt(t.Ts, 10, 64); err == nil && ms > 0 {
		at = time.UnixMilli(ms)
	}
	return TickerUpdate{InstID: t.InstID, Last: last, At: at}, true
}
