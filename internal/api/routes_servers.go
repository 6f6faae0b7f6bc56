package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/db"
	"github.com/energizer-project/rconnect/internal/pool"
	"github.com/energizer-project/rconnect/internal/rcon"
	"github.com/energizer-project/rconnect/internal/util"
)

type commandRequest struct {
	Command string `json:"command" binding:"required"`
	// TimeoutSec bounds this command; zero uses the profile timeout.
	TimeoutSec int `json:"timeout_sec"`
}

// handleListServers returns the session status of every configured server.
func (s *Server) handleListServers(c *gin.Context) {
	statuses := s.sessions.Statuses()
	c.JSON(http.StatusOK, gin.H{
		"servers": statuses,
		"total":   len(statuses),
	})
}

// handleServerStatus returns one server's session status.
func (s *Server) handleServerStatus(c *gin.Context) {
	st, err := s.sessions.Status(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleCommand sends a command and returns the server's reply.
func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	ctx := c.Request.Context()
	if req.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSec)*time.Second)
		defer cancel()
	}

	name := c.Param("name")
	start := time.Now()
	resp, err := s.sessions.Exec(ctx, name, req.Command)
	if err != nil {
		log.Warn().Err(err).Str("server", name).Str("command", req.Command).Msg("gateway: command failed")
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"server":      name,
		"command":     req.Command,
		"response":    resp,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// handleVerify runs the game's verification probe.
func (s *Server) handleVerify(c *gin.Context) {
	name := c.Param("name")
	if err := s.sessions.Verify(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": name, "verified": true})
}

// handleDisconnect ends the pooled session; the next command reconnects.
func (s *Server) handleDisconnect(c *gin.Context) {
	name := c.Param("name")
	if _, err := s.sessions.Status(name); err != nil {
		writeError(c, err)
		return
	}
	s.sessions.Drop(name)
	c.JSON(http.StatusOK, gin.H{"server": name, "status": "disconnected"})
}

// handleSessions lists recorded sessions of one server.
func (s *Server) handleSessions(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log is disabled"})
		return
	}
	records, err := s.history.Sessions(c.Param("name"), queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records, "total": len(records)})
}

// handleHistory returns audited commands, newest first.
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log is disabled"})
		return
	}

	filter := db.HistoryFilter{
		Server: c.Query("server"),
		Limit:  queryInt(c, "limit", 50),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = t
	}

	records, err := s.history.History(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": records, "total": len(records)})
}

// handleSystem returns host CPU and memory usage.
func (s *Server) handleSystem(c *gin.Context) {
	cpu, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cpu_percent":  cpu,
		"total_mb":     mem.Total,
		"used_mb":      mem.Used,
		"available_mb": mem.Available,
		"used_percent": mem.UsedPercent,
	})
}

// writeError maps pool and rcon errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, pool.ErrUnknownServer):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrBackoff), errors.Is(err, pool.ErrPoolClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, rcon.ErrTooManyPending):
		status = http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, rcon.ErrAuthenticationTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, rcon.ErrVerificationFailed):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
