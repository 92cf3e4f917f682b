package httpapi

import (
	"net/http"
	"strings"
	"time"

	"callcenter-dispatch/internal/reporting"

	"github.com/gin-gonic/gin"
)

const defaultStatsWindow = 24 * time.Hour

// parseRange reads RFC 3339 from/to query parameters. Missing bounds default
// to the last 24 hours.
func parseRange(c *gin.Context, now time.Time) (reporting.TimeRange, bool) {
	r := reporting.TimeRange{To: now.UTC()}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return reporting.TimeRange{}, false
		}
		r.To = t.UTC()
	}
	r.From = r.To.Add(-defaultStatsWindow)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return reporting.TimeRange{}, false
		}
		r.From = t.UTC()
	}
	return r, true
}

func (h Handlers) RealTimeStats(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	st, err := h.Reports.RealTimeStats(c.Request.Context(), id.TenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) AgentStats(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	r, ok := parseRange(c, time.Now())
	if !ok {
		return
	}
	m, err := h.Reports.AgentMetrics(c.Request.Context(), reporting.AgentMetricsRequest{
		TenantID: id.TenantID,
		AgentID:  c.Param("id"),
		Range:    r,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h Handlers) TeamStats(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	r, ok := parseRange(c, time.Now())
	if !ok {
		return
	}
	var agentIDs []string
	for _, v := range strings.Split(c.Query("agent_ids"), ",") {
		if v = strings.TrimSpace(v); v != "" {
			agentIDs = append(agentIDs, v)
		}
	}
	m, err := h.Reports.TeamMetrics(c.Request.Context(), reporting.TeamMetricsRequest{
		TenantID: id.TenantID,
		AgentIDs: agentIDs,
		Range:    r,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
