// Package notify 把需要人工关注的事件推送给运维（Webhook / Telegram）。
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"podmesh/config"
	"podmesh/logger"
	"podmesh/schema"
)

// Notifier 通知接口
type Notifier interface {
	Send(ctx context.Context, e schema.Event) error
	Name() string
}

// NotificationService 通知服务，把事件并发推送到所有启用的渠道
type NotificationService struct {
	notifiers []Notifier
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewNotificationService 按配置初始化启用的通知渠道
func NewNotificationService(cfg *config.Config) *NotificationService {
	var notifiers []Notifier
	if cfg.Notifications.Enabled {
		if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
			telegramNotifier, err := NewTelegramNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
			} else {
				notifiers = append(notifiers, telegramNotifier)
				logger.Info("✅ Telegram 通知已启用")
			}
		}

		if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
			webhookNotifier, err := NewWebhookNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
			} else {
				notifiers = append(notifiers, webhookNotifier)
				logger.Info("✅ Webhook 通知已启用")
			}
		}
	}
	return NewService(notifiers...)
}

// NewService 用给定渠道创建通知服务
func NewService(notifiers ...Notifier) *NotificationService {
	return &NotificationService{notifiers: notifiers, timeout: 5 * time.Second}
}

// Enabled 是否有可用渠道
func (ns *NotificationService) Enabled() bool {
	return len(ns.notifiers) > 0
}

// Send 发送通知（异步，不阻塞调用方）
func (ns *NotificationService) Send(e schema.Event) {
	if e == nil || len(ns.notifiers) == 0 {
		return
	}

	for _, n := range ns.notifiers {
		ns.wg.Add(1)
		go func(n Notifier) {
			defer ns.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), ns.timeout)
			defer cancel()
			if err := n.Send(ctx, e); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(n)
	}
}

// Wait 等待已发出的通知完成（退出前调用）
func (ns *NotificationService) Wait() {
	ns.wg.Wait()
}

// Title 事件标题与 emoji
func Title(e schema.Event) (emoji, title string) {
	switch ev := e.(type) {
	case schema.RiskEvent:
		if ev.Level == schema.SeverityCritical {
			return "🚨", "严重风险"
		}
		return "⚠️", "风险提示"
	case schema.ModeChangeEvent:
		switch ev.To {
		case schema.ModeNormal:
			return "✅", "模式恢复"
		case schema.ModeSafe:
			return "🛡️", "进入 SAFE 模式"
		case schema.ModeCrash:
			return "🛑", "进入 CRASH 模式"
		case schema.ModeDisabled:
			return "⛔", "pod 已停用"
		}
	case schema.ReconciliationEvent:
		return "🔍", "对账结果"
	}
	return "ℹ️", "系统通知"
}

// Summary 事件的纯文本摘要
func Summary(e schema.Event) string {
	scope := schema.PodIDOf(e)
	if scope == "" {
		scope = "global"
	}
	var lines []string
	lines = append(lines, "范围: "+scope)
	switch ev := e.(type) {
	case schema.RiskEvent:
		lines = append(lines, fmt.Sprintf("级别: %s", ev.Level), "原因: "+ev.Reason)
	case schema.ModeChangeEvent:
		lines = append(lines, fmt.Sprintf("模式: %s -> %s", ev.From, ev.To))
	case schema.ReconciliationEvent:
		lines = append(lines, fmt.Sprintf("成功: %v 撤销孤儿订单: %d 平掉孤儿持仓: %d", ev.Success, ev.CanceledOrphans, ev.ClosedOrphans))
		if ev.Error != "" {
			lines = append(lines, "错误: "+ev.Error)
		}
	default:
		lines = append(lines, "事件: "+string(e.Kind()))
	}
	lines = append(lines, "时间: "+e.Time().Format("2006-01-02 15:04:05"))
	return strings.Join(lines, "\n")
}
