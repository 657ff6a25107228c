package monitor

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics 进程资源指标
type SystemMetrics struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryRSS     uint64    `json:"memory_rss"`
	MemoryPercent float64   `json:"memory_percent"` // 占系统总内存的百分比
	Goroutines    int       `json:"goroutines"`
	ProcessID     int       `json:"process_id"`
}

// MemoryMB RSS 的 MB 表示
func (m SystemMetrics) MemoryMB() float64 {
	return float64(m.MemoryRSS) / 1024 / 1024
}

// Collector 采集当前进程的资源指标
type Collector struct {
	proc *process.Process
}

// NewCollector 创建采集器
func NewCollector() (*Collector, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("获取进程失败: %w", err)
	}
	return &Collector{proc: p}, nil
}

// Collect 采集一次。CPU 取进程占用率，失败时退回到系统占用率。
func (c *Collector) Collect() (SystemMetrics, error) {
	out := SystemMetrics{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
		ProcessID:  int(c.proc.Pid),
	}

	cpuPercent, err := c.proc.CPUPercent()
	if err != nil {
		cpuPercent, err = systemCPUPercent()
		if err != nil {
			return out, fmt.Errorf("获取CPU占用率失败: %w", err)
		}
	}
	out.CPUPercent = cpuPercent

	memInfo, err := c.proc.MemoryInfo()
	if err != nil {
		return out, fmt.Errorf("获取内存信息失败: %w", err)
	}
	out.MemoryRSS = memInfo.RSS

	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		out.MemoryPercent = float64(memInfo.RSS) / float64(vm.Total) * 100
	}
	return out, nil
}

func systemCPUPercent() (float64, error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, fmt.Errorf("无法获取CPU使用率")
	}
	return percentages[0], nil
}
