package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"podmesh/database"
	"podmesh/logger"
	"podmesh/metrics"
	"podmesh/schema"
)

// NotificationService 通知服务接口
type NotificationService interface {
	Send(e schema.Event)
}

// CenterConfig 事件中心配置
type CenterConfig struct {
	KeepCount       int
	KeepDays        int
	CleanupInterval time.Duration
}

// Center 事件中心：消费 Bus 上的事件，持久化、计数并按规则通知
type Center struct {
	db       database.Database
	bus      *Bus
	notifier NotificationService
	config   CenterConfig

	wg sync.WaitGroup
}

// NewCenter 创建事件中心，db 与 notifier 都可以为 nil
func NewCenter(db database.Database, bus *Bus, notifier NotificationService, config CenterConfig) *Center {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 24 * time.Hour
	}
	return &Center{db: db, bus: bus, notifier: notifier, config: config}
}

// Start 启动事件处理与定期清理。
// 事件处理在总线关闭并排空后退出，清理任务随 ctx 退出。
func (c *Center) Start(ctx context.Context) {
	logger.Info("🚀 启动事件中心...")

	c.wg.Add(1)
	go c.processEvents()

	if c.db != nil {
		c.wg.Add(1)
		go c.cleanupTask(ctx)
	}
}

// Wait 等待事件处理完毕，调用前应先关闭 Bus
func (c *Center) Wait() {
	c.wg.Wait()
	logger.Info("✅ 事件中心已停止")
}

func (c *Center) processEvents() {
	defer c.wg.Done()
	for e := range c.bus.Events() {
		c.Handle(e)
	}
}

// Handle 处理单个事件
func (c *Center) Handle(e schema.Event) {
	if e == nil {
		return
	}
	metrics.GetPrometheusMetrics().RecordEvent(string(e.Kind()))
	logEvent(e)

	if c.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.persist(ctx, e); err != nil {
			logger.Error("❌ 保存事件失败 (%s): %v", e.Kind(), err)
		}
		cancel()
	}

	if c.notifier != nil && ShouldNotify(e) {
		c.notifier.Send(e)
	}
}

func (c *Center) persist(ctx context.Context, e schema.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		logger.Warn("⚠️ 序列化事件失败: %v", err)
		payload = []byte("{}")
	}

	if report, ok := e.(schema.TradeReport); ok {
		rec := &database.TradeReportRecord{
			PodID:     report.PodID,
			Cycle:     report.Cycle,
			Details:   report.Details,
			Payload:   string(payload),
			CreatedAt: report.Timestamp,
		}
		if report.Consensus != nil {
			rec.Decision = string(report.Consensus.Decision)
		}
		if report.OrderLifecycle != nil {
			rec.OrderStatus = string(report.OrderLifecycle.Status)
			rec.ClientOrderID = report.OrderLifecycle.ClientOrderID
		}
		return c.db.SaveTradeReport(ctx, rec)
	}

	at := e.Time()
	if at.IsZero() {
		at = time.Now()
	}
	return c.db.SaveEvent(ctx, &database.EventRecord{
		Kind:      string(e.Kind()),
		PodID:     schema.PodIDOf(e),
		Severity:  string(SeverityOf(e)),
		Payload:   string(payload),
		EventTime: at,
		CreatedAt: time.Now(),
	})
}

// SeverityOf 事件的严重级别，普通事件返回空
func SeverityOf(e schema.Event) schema.Severity {
	switch ev := e.(type) {
	case schema.RiskEvent:
		return ev.Level
	case schema.ModeChangeEvent:
		switch ev.To {
		case schema.ModeSafe:
			return schema.SeverityWarn
		case schema.ModeCrash, schema.ModeDisabled:
			return schema.SeverityCritical
		}
		return schema.SeverityInfo
	case schema.ReconciliationEvent:
		if !ev.Success {
			return schema.SeverityWarn
		}
	}
	return ""
}

// ShouldNotify CRITICAL 风险事件和模式切换需要通知运维
func ShouldNotify(e schema.Event) bool {
	switch ev := e.(type) {
	case schema.RiskEvent:
		return ev.Level == schema.SeverityCritical
	case schema.ModeChangeEvent:
		return true
	}
	return false
}

func logEvent(e schema.Event) {
	switch ev := e.(type) {
	case schema.RiskEvent:
		scope := ev.PodID
		if scope == "" {
			scope = "global"
		}
		switch ev.Level {
		case schema.SeverityCritical:
			logger.Error("🚨 [风险][%s] %s", scope, ev.Reason)
		case schema.SeverityWarn:
			logger.Warn("⚠️ [风险][%s] %s", scope, ev.Reason)
		default:
			logger.Info("ℹ️ [风险][%s] %s", scope, ev.Reason)
		}
	case schema.TradeReport:
		logger.Debug("[报告][%s] cycle=%d %s", ev.PodID, ev.Cycle, ev.Details)
	case schema.HeartbeatEvent:
		logger.Debug("💓 心跳 cycle=%d 全局模式=%s", ev.Cycle, ev.GlobalMode)
	}
}

func (c *Center) cleanupTask(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.performCleanup(ctx)
		}
	}
}

func (c *Center) performCleanup(ctx context.Context) {
	logger.Info("🧹 开始清理旧事件...")
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	if err := c.db.CleanupOldEvents(ctx, c.config.KeepCount, c.config.KeepDays); err != nil {
		logger.Error("❌ 清理事件失败: %v", err)
		return
	}
	logger.Info("✅ 事件清理完成")
}
