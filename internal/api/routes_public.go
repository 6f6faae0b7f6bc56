package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconnect/internal/rcon"
	"github.com/energizer-project/rconnect/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rconnect",
		"version": s.version,
	})
}

// handleInfo returns host information and the number of configured servers.
func (s *Server) handleInfo(c *gin.Context) {
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"version":         s.version,
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"arch":            sysInfo.Architecture,
		"go_version":      sysInfo.GoVersion,
		"total_servers":   len(s.cfg.GetServers()),
		"supported_games": len(rcon.Games()),
	})
}

// handleGames lists every recognised game id with its protocol family.
func (s *Server) handleGames(c *gin.Context) {
	games := rcon.Games()
	profiles := make([]rcon.Profile, 0, len(games))
	for _, g := range games {
		if p, err := rcon.Lookup(g); err == nil {
			profiles = append(profiles, p)
		}
	}
	c.JSON(http.StatusOK, gin.H{"games": profiles})
}
