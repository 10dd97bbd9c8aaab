package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/dispatch"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/queue"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/quota"
)

// inboundRequest is the payload of POST /hooks/inbound.
type inboundRequest struct {
	TenantID       string     `json:"tenant_id" binding:"required"`
	CounterpartyID string     `json:"counterparty_id" binding:"required"`
	Timestamp      *time.Time `json:"timestamp"`
}

// sendRequest is the payload of POST /v1/messages.
type sendRequest struct {
	TenantID       string `json:"tenant_id" binding:"required"`
	ConversationID string `json:"conversation_id" binding:"required"`
	Payload        string `json:"payload" binding:"required"`
	Priority       int    `json:"priority"`
	Mode           string `json:"mode"` // "direct" or "queue" (default)
}

// renewRequest is the payload of POST /v1/tenants/:id/quota/renew.
type renewRequest struct {
	Amount int    `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

func handleInbound(svc *dispatch.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req inboundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		now := time.Now()
		if req.Timestamp != nil {
			now = *req.Timestamp
		}
		res, err := svc.OnInboundMessage(req.TenantID, req.CounterpartyID, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleSend(svc *dispatch.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.RequestSend(c.Request.Context(), req.TenantID, req.ConversationID,
			req.Payload, req.Priority, req.Mode == "direct", time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if res.Mode == dispatch.ModeDenied {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":  quota.ErrKindQuotaExceeded,
				"result": res,
			})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleJob(store *queue.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := store.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"job_id":          job.JobID,
			"tenant_id":       job.TenantID,
			"conversation_id": job.ConversationID,
			"status":          job.Status,
			"priority":        job.Priority,
			"attempts":        job.Attempts,
			"created_at":      job.CreatedAt,
		})
	}
}

func handleQuotaStatus(ledger *quota.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := ledger.GetStatus(c.Param("id"), time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func handleRenew(ledger *quota.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req renewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tenantID := c.Param("id")
		now := time.Now()
		if err := ledger.Renew(tenantID, req.Amount, req.Reason, now); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		st, err := ledger.GetStatus(tenantID, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func handleNearing(ledger *quota.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		threshold := 0
		if raw := c.Query("threshold"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 || v > 100 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be an integer between 1 and 100"})
				return
			}
			threshold = v
		}
		out, err := ledger.ListNearingQuota(threshold, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenants": out})
	}
}
