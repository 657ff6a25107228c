package pod

import (
	"podmesh/logger"
	"podmesh/metrics"
)

// CapCapital 按资金池占比把交易所可用余额分摊给各 pod，
// pod 当前资金高于分摊额时下调到分摊额，低于时保持不变（交易扣减只减不增）。
func (m *Manager) CapCapital(available float64) {
	total := 0.0
	for _, p := range m.pods {
		total += p.Config.CapitalPool
	}
	if total <= 0 || available < 0 {
		return
	}

	pm := metrics.GetPrometheusMetrics()
	for _, p := range m.pods {
		share := available * p.Config.CapitalPool / total
		p.Lock()
		prev := p.CurrentCapital
		if prev > share {
			p.CurrentCapital = share
		}
		current := p.CurrentCapital
		p.Unlock()
		pm.SetPodCapital(p.ID(), current)
		if current != prev {
			logger.Info("💰 [%s] 资金按交易所余额下调 %.4f -> %.4f", p.ID(), prev, current)
		}
	}
}
