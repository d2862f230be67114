package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"chieftain/pkg/election"
)

// getStatus reports the elector's view of the channel.
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":       s.elector.ID(),
		"channel":  s.elector.Channel(),
		"state":    s.elector.State().String(),
		"is_chief": s.elector.IsChief(),
		"chief_id": s.elector.ChiefID(),
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// getNode reports host-level resource information for this node.
func (s *Server) getNode(c *gin.Context) {
	hostname, _ := os.Hostname()

	node := gin.H{
		"id":        s.elector.ID(),
		"hostname":  hostname,
		"cpu_cores": runtime.NumCPU(),
	}

	if v, err := mem.VirtualMemory(); err == nil {
		node["memory_total_mb"] = v.Total / 1024 / 1024
		node["memory_used_pct"] = v.UsedPercent
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		node["cpu_used_pct"] = pct[0]
	}

	c.JSON(http.StatusOK, node)
}

type broadcastRequest struct {
	Payload map[string]interface{} `json:"payload" binding:"required"`
}

// postBroadcast publishes an application payload to every peer on the channel.
func (s *Server) postBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := s.elector.BroadcastData(req.Payload); err != nil {
		if err == election.ErrNotRunning {
			c.JSON(http.StatusConflict, gin.H{"error": "elector is not running"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "broadcast sent"})
}
