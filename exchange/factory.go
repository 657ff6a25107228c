package exchange

import (
	"fmt"
	"time"

	"podmesh/config"
	"podmesh/exchange/okx"
	"podmesh/logger"
)

// NewBroker 按交易模式创建 Broker，只在启动时调用一次。
// prices 为 DryRun 模拟撮合提供市价单成交价。
func NewBroker(cfg *config.Config, retrier *Retrier, prices func(symbol string) float64) (Broker, TradingMode, error) {
	mode, err := ParseTradingMode(cfg.App.TradingMode)
	if err != nil {
		return nil, "", err
	}

	switch mode {
	case DryRun:
		logger.Info("🧪 交易模式 DRY_RUN：使用本地模拟撮合，不访问交易所")
		return NewSimBroker(SimOptions{
			Balance:   cfg.Market.SimBalance,
			FillRatio: cfg.Market.SimFillRatio,
			Prices:    prices,
		}), mode, nil

	case Paper, Live:
		okxCfg := cfg.Exchange.OKX
		creds := okxCfg.Live
		simulated := mode == Paper
		if simulated {
			creds = okxCfg.Paper
		}
		if !creds.Complete() {
			return nil, "", fmt.Errorf("%s 模式缺少 OKX 凭证", mode)
		}
		client := okx.NewClient(creds.APIKey, creds.SecretKey, creds.Passphrase, okx.Options{
			BaseURL:   okxCfg.BaseURL,
			Timeout:   time.Duration(okxCfg.Timeout) * time.Second,
			RateLimit: okxCfg.RateLimit,
			RateBurst: okxCfg.RateBurst,
			Simulated: simulated,
		})
		logger.Info("✅ 交易模式 %s：OKX %s", mode, okxCfg.BaseURL)
		return NewOKXBroker(client, retrier, okxCfg.TdMode, PodResolverFromConfig(cfg.Pods)), mode, nil
	}
	return nil, "", fmt.Errorf("不支持的交易模式: %s", mode)
}

// PodResolverFromConfig 只有恰好一个 pod 声明该合约时才归属到它。
// 多个 pod 共用合约时交易所只报告净持仓，返回空串，由对账按内部合计处理。
func PodResolverFromConfig(pods []config.PodConfig) PodResolver {
	return func(symbol string) string {
		owner := ""
		for _, p := range pods {
			if !p.OwnsInstrument(symbol) {
				continue
			}
			if owner != "" {
				return ""
			}
			owner = p.ID
		}
		return owner
	}
}
