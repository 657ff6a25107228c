package pod

import (
	"podmesh/event"
	"podmesh/fsm"
	"podmesh/logger"
	"podmesh/metrics"
	"podmesh/schema"
)

// ModeChangeObserver 把模式切换转换为 ModeChangeEvent，并更新模式指标
func ModeChangeObserver(sink event.Sink) fsm.ModeObserver {
	return func(c fsm.ModeChange) {
		scope := c.PodID
		if scope == "" {
			scope = "global"
		}
		pm := metrics.GetPrometheusMetrics()
		pm.SetMode(scope, c.To.Rank())
		pm.RecordModeChange(scope, string(c.To))

		if c.To.Rank() > c.From.Rank() {
			logger.Warn("⚠️ [%s] 模式升级 %s -> %s", scope, c.From, c.To)
		} else {
			logger.Info("🔄 [%s] 模式重置 %s -> %s", scope, c.From, c.To)
		}
		if sink != nil {
			sink.Emit(schema.ModeChangeEvent{PodID: c.PodID, From: c.From, To: c.To, Timestamp: c.At})
		}
	}
}
