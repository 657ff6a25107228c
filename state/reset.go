package state

import "podmesh/schema"

// ResetModes 把全局与所有 pod 的模式重置为 NORMAL，错误预算与其它状态保持不变。
// 返回被重置的作用域（全局为 "global"）。
func ResetModes(cp *Checkpoint) []string {
	var reset []string
	if cp.GlobalMode != schema.ModeNormal {
		reset = append(reset, "global")
		cp.GlobalMode = schema.ModeNormal
	}
	for i := range cp.Pods {
		if cp.Pods[i].Mode != schema.ModeNormal {
			reset = append(reset, cp.Pods[i].PodID)
			cp.Pods[i].Mode = schema.ModeNormal
		}
	}
	return reset
}
