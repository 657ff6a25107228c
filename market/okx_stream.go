package market

import (
	"context"

	"podmesh/exchange/okx"
	"podmesh/logger"
)

// RunOKXTickers 把 OKX tickers 频道的最新价写入 Feed，阻塞直到 ctx 取消
func RunOKXTickers(ctx context.Context, stream *okx.TickerStream, feed *Feed) error {
	logger.Info("📡 订阅 OKX 行情: %s", feed.Symbol())
	return stream.Run(ctx, func(u okx.TickerUpdate) {
		feed.Push(u.Last, u.At)
	})
}
