package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatus is the operator view of the coordinator process
type SystemStatus struct {
	Status         string         `json:"status"`
	SettlementMode string         `json:"settlement_mode"`
	Transport      string         `json:"transport"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	Goroutines     int            `json:"goroutines"`
	CPUPercent     float64        `json:"cpu_percent"`
	MemoryPercent  float64        `json:"memory_percent"`
	Jobs           map[string]int `json:"jobs,omitempty"`
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := SystemStatus{
		Status:         "ok",
		SettlementMode: s.cfg.SettlementMode,
		Transport:      s.cfg.TransportKind,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Goroutines:     runtime.NumGoroutine(),
	}

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		status.CPUPercent = percents[0]
	} else if err != nil {
		s.log.Debug().Err(err).Msg("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemoryPercent = vm.UsedPercent
	} else {
		s.log.Debug().Err(err).Msg("Failed to read memory usage")
	}

	if s.cfg.Jobs != nil {
		counts, err := s.cfg.Jobs.CountByStatus(r.Context())
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to count dispatch jobs")
			status.Status = "degraded"
		} else {
			status.Jobs = counts
		}
	}

	s.writeJSON(w, http.StatusOK, status)
}
