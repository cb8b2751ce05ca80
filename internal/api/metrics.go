package api

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerMetrics сведения о процессе для /api/stats
type ServerMetrics struct {
	StartTime time.Time
	proc      *process.Process
}

// ProcessStats снимок ресурсов процесса
type ProcessStats struct {
	Uptime     string  `json:"uptime"`
	RSSMB      float64 `json:"rssMb"`
	HeapMB     float64 `json:"heapMb"`
	CPUPercent float64 `json:"cpuPercent"`
	Goroutines int     `json:"goroutines"`
	NumGC      uint32  `json:"numGc"`
}

// NewServerMetrics создает новый экземпляр метрик
func NewServerMetrics() *ServerMetrics {
	sm := &ServerMetrics{StartTime: time.Now()}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sm.proc = proc
	}
	return sm
}

// Snapshot собирает текущие показатели. Ошибки gopsutil дают нули.
func (sm *ServerMetrics) Snapshot() ProcessStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := ProcessStats{
		Uptime:     time.Since(sm.StartTime).Truncate(time.Second).String(),
		HeapMB:     float64(m.HeapAlloc) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		NumGC:      m.NumGC,
	}
	if sm.proc != nil {
		if mem, err := sm.proc.MemoryInfo(); err == nil {
			stats.RSSMB = float64(mem.RSS) / 1024 / 1024
		}
		if pct, err := sm.proc.CPUPercent(); err == nil {
			stats.CPUPercent = pct
			return stats
		}
	}
	// Если не удалось получить метрику процесса, берём системную
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		stats.CPUPercent = pcts[0]
	}
	return stats
}
