package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/reliability"
)

// handleHealth reports process, database, and host health in one shot.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"cache":          s.deps.Cache.Stats(),
	}

	dbStatus := "ok"
	if err := s.deps.DB.HealthCheck(ctx); err != nil {
		dbStatus = err.Error()
		resp["status"] = "degraded"
	}
	resp["database"] = dbStatus

	host := map[string]any{}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		host["memory_used_pct"] = vm.UsedPercent
	}
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		host["cpu_pct"] = pcts[0]
	}
	if usage, err := disk.UsageWithContext(ctx, s.deps.Cfg.DataDir); err == nil {
		host["disk_free_bytes"] = usage.Free
		host["disk_used_pct"] = usage.UsedPercent
	}
	resp["host"] = host

	status := http.StatusOK
	if resp["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backups == nil {
		s.writeError(w, r, domain.Errorf(domain.KindInvalidInput, "backups are not configured"))
		return
	}

	backups, err := s.deps.Backups.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if backups == nil {
		backups = []reliability.BackupInfo{}
	}
	s.writeJSON(w, http.StatusOK, backups)
}

func (s *Server) handleRunBackup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backups == nil {
		s.writeError(w, r, domain.Errorf(domain.KindInvalidInput, "backups are not configured"))
		return
	}

	key, err := s.deps.Backups.Backup(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}
