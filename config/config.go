package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"podmesh/logger"
)

// 交易模式
const (
	TradingModeDryRun = "DRY_RUN"
	TradingModePaper  = "PAPER"
	TradingModeLive   = "LIVE"
)

// RiskLimits pod 风控限额
type RiskLimits struct {
	Leverage            float64 `yaml:"leverage" json:"leverage"`
	MaxDailyLoss        float64 `yaml:"max_daily_loss" json:"max_daily_loss"`
	MaxDrawdown         float64 `yaml:"max_drawdown" json:"max_drawdown"`
	MaxOpenPositions    int     `yaml:"max_open_positions" json:"max_open_positions"`
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade" json:"max_notional_per_trade"` // 单笔名义价值上限（同时作为下单数量）
	RequireStopLoss     bool    `yaml:"require_stop_loss" json:"require_stop_loss"`
	MaxHoldingMinutes   int     `yaml:"max_holding_minutes" json:"max_holding_minutes"`
	AllowScaleIn        bool    `yaml:"allow_scale_in" json:"allow_scale_in"` // 是否允许加仓
}

// AIProfile AI 顾问参数
type AIProfile struct {
	SignalWeight     float64 `yaml:"signal_weight" json:"signal_weight"`
	RegimeWeight     float64 `yaml:"regime_weight" json:"regime_weight"`
	RiskWeight       float64 `yaml:"risk_weight" json:"risk_weight"`
	MaxDeltaPercent  float64 `yaml:"max_delta_percent" json:"max_delta_percent"`     // 单次学习调整上限
	MinTradesToLearn int     `yaml:"min_trades_to_learn" json:"min_trades_to_learn"` // 开始学习所需最少成交数
}

// PodConfig 单个 pod 的静态配置
type PodConfig struct {
	ID                 string     `yaml:"id" json:"id"`
	Name               string     `yaml:"name" json:"name"`
	CapitalPool        float64    `yaml:"capital_pool" json:"capital_pool"` // 名义资金池
	Risk               RiskLimits `yaml:"risk" json:"risk"`
	StrategyID         string     `yaml:"strategy" json:"strategy"`
	OrderTagPrefix     string     `yaml:"order_tag_prefix" json:"order_tag_prefix"`
	AI                 AIProfile  `yaml:"ai" json:"ai"`
	DisableOnDepletion bool       `yaml:"disable_on_depletion" json:"disable_on_depletion"` // 资金耗尽时直接 DISABLED
	Instruments        []string   `yaml:"instruments" json:"instruments"`                   // 归属于该 pod 的合约（用于交易所持仓归属）
}

// OwnsInstrument 合约是否归属该 pod
func (p PodConfig) OwnsInstrument(symbol string) bool {
	for _, s := range p.Instruments {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// Credentials 交易所 API 凭证
type Credentials struct {
	APIKey     string `yaml:"api_key" json:"-"`
	SecretKey  string `yaml:"secret_key" json:"-"`
	Passphrase string `yaml:"passphrase" json:"-"`
}

// Complete 凭证是否完整
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

// OKXConfig OKX 交易所配置
type OKXConfig struct {
	BaseURL   string      `yaml:"base_url"`
	WsURL     string      `yaml:"ws_url"`  // 公共行情 WebSocket
	Timeout   int         `yaml:"timeout"` // 单次请求超时（秒，默认10）
	RateLimit float64     `yaml:"rate_limit"`
	RateBurst int         `yaml:"rate_burst"`
	TdMode    string      `yaml:"td_mode"` // cross / isolated
	Live      Credentials `yaml:"live"`
	Paper     Credentials `yaml:"paper"`
}

// RetryConfig 交易所调用重试策略
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`  // 总尝试次数（含第一次）
	BaseDelayMs int `yaml:"base_delay_ms"` // 指数退避基数
	MaxDelayMs  int `yaml:"max_delay_ms"`  // 退避上限
	MaxJitterMs int `yaml:"max_jitter_ms"` // 随机抖动上限（不含）
}

// MarketConfig 行情源配置
type MarketConfig struct {
	Window          int     `yaml:"window"`           // 波动率计算窗口（价格点数）
	StaleAfterSec   int     `yaml:"stale_after_sec"`  // 超过该时长未更新视为 DELAYED
	GapAfterSec     int     `yaml:"gap_after_sec"`    // 超过该时长未更新视为 GAPPED
	VolatilityScale float64 `yaml:"volatility_scale"` // 收益率标准差归一化系数
	SimStartPrice   float64 `yaml:"sim_start_price"`  // 模拟行情起始价格
	SimStepSigma    float64 `yaml:"sim_step_sigma"`   // 模拟行情单步波动
	SimIntervalMs   int     `yaml:"sim_interval_ms"`  // 模拟行情推送间隔
	SimFillRatio    float64 `yaml:"sim_fill_ratio"`   // 模拟撮合完全成交概率
	SimBalance      float64 `yaml:"sim_balance"`      // 模拟账户余额
}

// Config 交易引擎配置
type Config struct {
	App struct {
		TradingMode string `yaml:"trading_mode"` // DRY_RUN / PAPER / LIVE
		Symbol      string `yaml:"symbol"`       // 交易合约，如 BTC-USDT-SWAP
	} `yaml:"app"`

	Exchange struct {
		OKX OKXConfig `yaml:"okx"`
	} `yaml:"exchange"`

	// 各循环间隔（秒）
	Trading struct {
		TradingInterval    int `yaml:"trading_interval"`
		ReconcileInterval  int `yaml:"reconcile_interval"`
		HeartbeatInterval  int `yaml:"heartbeat_interval"`
		CheckpointInterval int `yaml:"checkpoint_interval"`
	} `yaml:"trading"`

	// 错误预算阈值
	Risk struct {
		SafeThreshold  int `yaml:"safe_threshold"`  // 达到后升级到 SAFE
		CrashThreshold int `yaml:"crash_threshold"` // 达到后升级到 CRASH
	} `yaml:"risk"`

	Retry RetryConfig `yaml:"retry"`

	Market MarketConfig `yaml:"market"`

	Pods []PodConfig `yaml:"pods"`

	// 数据库配置（支持 SQLite、PostgreSQL、MySQL）
	Database struct {
		Type            string `yaml:"type"`              // sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 默认 ./data/podmesh.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 默认 20
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 默认 5
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 秒，默认 3600
		LogLevel        string `yaml:"log_level"`         // silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 分布式锁配置（同一账户只允许一个写入者）
	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`
		Type       string `yaml:"type"`        // 目前只支持 redis
		Prefix     string `yaml:"prefix"`      // 默认 "podmesh:lock:"
		DefaultTTL int    `yaml:"default_ttl"` // 秒，默认 5

		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	Notifications struct {
		Enabled bool `yaml:"enabled"`

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`

		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 秒，默认 3
		} `yaml:"webhook"`
	} `yaml:"notifications"`

	// 事件中心：事件总线缓冲与历史事件保留策略
	Events struct {
		BufferSize      int `yaml:"buffer_size"`      // 默认 1000
		KeepCount       int `yaml:"keep_count"`       // 至少保留的事件条数，默认 100000
		KeepDays        int `yaml:"keep_days"`        // 超过该天数的事件可被清理，默认 30
		CleanupInterval int `yaml:"cleanup_interval"` // 小时，默认 24
	} `yaml:"events"`

	// 运维 HTTP 服务（/metrics /healthz /status）
	Web struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"web"`

	System struct {
		LogLevel string `yaml:"log_level"`
		LogFile  bool   `yaml:"log_file"` // 是否写入 logs/ 下的按日文件
		LogDir   string `yaml:"log_dir"`
		Timezone string `yaml:"timezone"`
	} `yaml:"system"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// applyEnv 环境变量覆盖交易所凭证
func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Exchange.OKX.Live.APIKey, "OKX_API_KEY")
	override(&c.Exchange.OKX.Live.SecretKey, "OKX_SECRET")
	override(&c.Exchange.OKX.Live.Passphrase, "OKX_PASSPHRASE")
	override(&c.Exchange.OKX.Paper.APIKey, "OKX_PAPER_API_KEY")
	override(&c.Exchange.OKX.Paper.SecretKey, "OKX_PAPER_SECRET")
	override(&c.Exchange.OKX.Paper.Passphrase, "OKX_PAPER_PASSPHRASE")
}

// Validate 校验配置并填充默认值
func (c *Config) Validate() error {
	c.App.TradingMode = strings.ToUpper(strings.TrimSpace(c.App.TradingMode))
	if c.App.TradingMode == "" {
		c.App.TradingMode = TradingModeDryRun
	}
	switch c.App.TradingMode {
	case TradingModeDryRun:
	case TradingModePaper:
		if !c.Exchange.OKX.Paper.Complete() {
			return fmt.Errorf("PAPER 模式需要完整的模拟盘凭证 (exchange.okx.paper)")
		}
	case TradingModeLive:
		if !c.Exchange.OKX.Live.Complete() {
			return fmt.Errorf("LIVE 模式需要完整的实盘凭证 (exchange.okx.live)")
		}
	default:
		return fmt.Errorf("未知的交易模式: %s", c.App.TradingMode)
	}

	if c.App.Symbol == "" {
		c.App.Symbol = "BTC-USDT-SWAP"
	}

	okx := &c.Exchange.OKX
	if okx.BaseURL == "" {
		okx.BaseURL = "https://www.okx.com"
	}
	if okx.Timeout <= 0 {
		okx.Timeout = 10
	}
	if okx.RateLimit <= 0 {
		okx.RateLimit = 25
	}
	if okx.RateBurst <= 0 {
		okx.RateBurst = 30
	}
	if okx.TdMode == "" {
		okx.TdMode = "cross"
	}

	if c.Trading.TradingInterval <= 0 {
		c.Trading.TradingInterval = 8
	}
	if c.Trading.ReconcileInterval <= 0 {
		c.Trading.ReconcileInterval = 2
	}
	if c.Trading.HeartbeatInterval <= 0 {
		c.Trading.HeartbeatInterval = 15
	}
	if c.Trading.CheckpointInterval <= 0 {
		c.Trading.CheckpointInterval = 10
	}

	if c.Risk.SafeThreshold <= 0 {
		c.Risk.SafeThreshold = 3
	}
	if c.Risk.CrashThreshold <= 0 {
		c.Risk.CrashThreshold = 6
	}
	if c.Risk.SafeThreshold >= c.Risk.CrashThreshold {
		return fmt.Errorf("risk.safe_threshold (%d) 必须小于 risk.crash_threshold (%d)",
			c.Risk.SafeThreshold, c.Risk.CrashThreshold)
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = 200
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = 5000
	}
	if c.Retry.MaxJitterMs < 0 {
		c.Retry.MaxJitterMs = 0
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		return fmt.Errorf("retry.max_delay_ms 不能小于 retry.base_delay_ms")
	}

	m := &c.Market
	if m.Window <= 1 {
		m.Window = 30
	}
	if m.StaleAfterSec <= 0 {
		m.StaleAfterSec = 5
	}
	if m.GapAfterSec <= m.StaleAfterSec {
		m.GapAfterSec = m.StaleAfterSec * 6
	}
	if m.VolatilityScale <= 0 {
		m.VolatilityScale = 0.02
	}
	if m.SimStartPrice <= 0 {
		m.SimStartPrice = 60000
	}
	if m.SimStepSigma <= 0 {
		m.SimStepSigma = 0.001
	}
	if m.SimIntervalMs <= 0 {
		m.SimIntervalMs = 1000
	}
	if m.SimFillRatio <= 0 || m.SimFillRatio > 1 {
		m.SimFillRatio = 0.8
	}
	if m.SimBalance <= 0 {
		m.SimBalance = 1200
	}

	if len(c.Pods) == 0 {
		c.Pods = DefaultPods(c.App.Symbol)
	}
	seen := make(map[string]bool, len(c.Pods))
	for i := range c.Pods {
		p := &c.Pods[i]
		if p.ID == "" {
			return fmt.Errorf("pods[%d].id 不能为空", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("pod id 重复: %s", p.ID)
		}
		seen[p.ID] = true
		if p.CapitalPool <= 0 {
			return fmt.Errorf("pod %s 的 capital_pool 必须大于0", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.OrderTagPrefix == "" {
			p.OrderTagPrefix = strings.ToUpper(p.ID)
		}
		if p.Risk.Leverage <= 0 {
			p.Risk.Leverage = 1
		}
		if p.Risk.MaxOpenPositions <= 0 {
			return fmt.Errorf("pod %s 的 max_open_positions 必须大于0", p.ID)
		}
		if p.Risk.MaxNotionalPerTrade <= 0 {
			return fmt.Errorf("pod %s 的 max_notional_per_trade 必须大于0", p.ID)
		}
		if p.StrategyID == "" {
			return fmt.Errorf("pod %s 未指定策略", p.ID)
		}
		if len(p.Instruments) == 0 {
			p.Instruments = []string{c.App.Symbol}
		}
	}
	for symbol, owners := range c.SharedInstruments() {
		logger.Warn("⚠️ 合约 %s 被多个 pod 共用 %v，交易所净持仓无法归属，对账只在所有 pod 内部为空时平仓",
			symbol, owners)
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Type == "sqlite" {
		c.Database.DSN = "./data/podmesh.db"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}

	if c.DistributedLock.Enabled {
		if c.DistributedLock.Type == "" {
			c.DistributedLock.Type = "redis"
		}
		if c.DistributedLock.Redis.Addr == "" {
			c.DistributedLock.Redis.Addr = "localhost:6379"
		}
	}
	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "podmesh:lock:"
	}
	if c.DistributedLock.DefaultTTL <= 0 {
		c.DistributedLock.DefaultTTL = 5
	}
	if c.DistributedLock.Redis.PoolSize <= 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	if c.Notifications.Webhook.Timeout <= 0 {
		c.Notifications.Webhook.Timeout = 3
	}

	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 1000
	}
	if c.Events.KeepCount <= 0 {
		c.Events.KeepCount = 100000
	}
	if c.Events.KeepDays <= 0 {
		c.Events.KeepDays = 30
	}
	if c.Events.CleanupInterval <= 0 {
		c.Events.CleanupInterval = 24
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port <= 0 {
		c.Web.Port = 9090
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "Asia/Shanghai"
	}
	if _, err := time.LoadLocation(c.System.Timezone); err != nil {
		return fmt.Errorf("无效的时区 %s: %w", c.System.Timezone, err)
	}

	return nil
}

// Interval 把秒数转换为 time.Duration
func Interval(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// Location 配置的时区，解析失败时返回本地时区
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.System.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// PodByID 按 id 查找 pod 配置
func (c *Config) PodByID(id string) (PodConfig, bool) {
	for _, p := range c.Pods {
		if p.ID == id {
			return p, true
		}
	}
	return PodConfig{}, false
}

// TotalCapitalPool 所有 pod 资金池之和
func (c *Config) TotalCapitalPool() float64 {
	total := 0.0
	for _, p := range c.Pods {
		total += p.CapitalPool
	}
	return total
}

// SharedInstruments 被多个 pod 声明的合约（大写）及其 pod id，按配置顺序
func (c *Config) SharedInstruments() map[string][]string {
	owners := make(map[string][]string)
	for _, p := range c.Pods {
		seen := make(map[string]bool)
		for _, s := range p.Instruments {
			key := strings.ToUpper(s)
			if seen[key] {
				continue
			}
			seen[key] = true
			owners[key] = append(owners[key], p.ID)
		}
	}
	shared := make(map[string][]string)
	for symbol, ids := range owners {
		if len(ids) > 1 {
			shared[symbol] = ids
		}
	}
	return shared
}

// DefaultPods 默认的两个 pod：低杠杆趋势 core 与高杠杆动量 spec
func DefaultPods(symbol string) []PodConfig {
	return []PodConfig{
		{
			ID:          "core",
			Name:        "Core Trend",
			CapitalPool: 1000,
			Risk: RiskLimits{
				Leverage:            1,
				MaxDailyLoss:        30,
				MaxDrawdown:         80,
				MaxOpenPositions:    3,
				MaxNotionalPerTrade: 100,
				RequireStopLoss:     true,
				MaxHoldingMinutes:   720,
				AllowScaleIn:        false,
			},
			StrategyID:     "CORE_TREND",
			OrderTagPrefix: "CORE",
			AI:             AIProfile{SignalWeight: 0.5, RegimeWeight: 0.3, RiskWeight: 0.2, MaxDeltaPercent: 0.02, MinTradesToLearn: 50},
			Instruments:    []string{symbol},
		},
		{
			ID:          "spec",
			Name:        "Speculative Momentum",
			CapitalPool: 200,
			Risk: RiskLimits{
				Leverage:            10,
				MaxDailyLoss:        50,
				MaxDrawdown:         200,
				MaxOpenPositions:    1,
				MaxNotionalPerTrade: 0.8,
				RequireStopLoss:     true,
				MaxHoldingMinutes:   120,
				AllowScaleIn:        false,
			},
			StrategyID:         "SPEC_MOMENTUM",
			OrderTagPrefix:     "SPEC",
			AI:                 AIProfile{SignalWeight: 0.4, RegimeWeight: 0.4, RiskWeight: 0.2, MaxDeltaPercent: 0.03, MinTradesToLearn: 20},
			DisableOnDepletion: true,
		},
	}
}
