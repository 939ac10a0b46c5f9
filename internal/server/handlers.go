package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polyrelay/polyrelay/internal/logger"
	"github.com/polyrelay/polyrelay/internal/models"
	"github.com/polyrelay/polyrelay/internal/storage"
)

// poolStatus returns the per-account availability report
func (s *Server) poolStatus(c *gin.Context) {
	p := s.Pool()
	now := time.Now()

	accounts := make([]gin.H, 0, p.Len())
	availableCount := 0
	for _, rec := range p.Accounts() {
		cfg := rec.Config()
		status := rec.QuotaStatus()
		_, summary := rec.Tracker().Remaining(now)
		expiryStatus, expiryDisplay := cfg.FormatExpiry(now)

		if rec.Available() && !cfg.Disabled && !status.Expired {
			availableCount++
		}

		entry := gin.H{
			"id":            rec.ID(),
			"available":     rec.Available(),
			"disabled":      cfg.Disabled,
			"quota":         status,
			"success_count": rec.SuccessCount(),
			"failure_count": rec.FailureCount(),
			"session_usage": rec.SessionUsage(),
			"expiry": gin.H{
				"status":  expiryStatus,
				"display": expiryDisplay,
			},
		}
		if summary != "" {
			entry["cooldown"] = summary
		}
		accounts = append(accounts, entry)
	}

	c.JSON(200, gin.H{
		"total":     p.Len(),
		"available": availableCount,
		"sessions":  p.SessionCount(),
		"locks":     p.LockCount(),
		"accounts":  accounts,
	})
}

// poolReload rebuilds the pool from current storage, preserving runtime state
func (s *Server) poolReload(c *gin.Context) {
	configs, err := storage.LoadAccountConfigs(s.bridge, s.logger)
	if err != nil {
		s.logger.Error("reload aborted, account configs unavailable", zap.Error(err))
		s.recordReload(false, err, 0)
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	fresh, err := s.Pool().Reload(configs)
	if err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.recordReload(false, err, len(configs))
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	s.swapPool(fresh)
	s.recordReload(true, nil, len(configs))

	c.JSON(200, gin.H{
		"status":   "reloaded",
		"accounts": fresh.Len(),
	})
}

func (s *Server) recordReload(success bool, cause error, count int) {
	entry := models.TaskHistoryEntry{
		ID:        uuid.NewString(),
		Kind:      "pool_reload",
		Success:   success,
		CreatedAt: float64(time.Now().UnixNano()) / 1e9,
		Detail:    map[string]any{"accounts": count},
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := s.bridge.AppendTaskHistory(entry); err != nil {
		s.logger.Error("failed to record reload history", zap.Error(err))
	}
}

// poolHistory returns recent maintenance task records
func (s *Server) poolHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(400, gin.H{"error": fmt.Sprintf("invalid limit: %q", raw)})
			return
		}
		limit = n
	}

	entries, err := s.bridge.LoadTaskHistory(limit)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []models.TaskHistoryEntry{}
	}
	c.JSON(200, gin.H{"history": entries})
}

// getLogs returns recent in-memory log entries
func (s *Server) getLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(200, gin.H{"logs": logger.GlobalBuffer.GetRecent(limit)})
}

// clearLogs clears the in-memory log buffer
func (s *Server) clearLogs(c *gin.Context) {
	logger.GlobalBuffer.Clear()
	c.JSON(200, gin.H{"status": "cleared"})
}
