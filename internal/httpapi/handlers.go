package httpapi

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nfa-labs/agentrunner/internal/runner"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

type handler struct {
	sched *runner.Scheduler
}

// permit mirrors the signed lifecycle permit an operator (or renter) wallet
// produces off-chain. Signature verification and on-chain submission are
// wire-level RPC concerns out of this core's scope (see spec.md §1
// Non-goals); this handler validates shape and flips the local strategy
// row, the same "local" effect an on-chain permit redemption would
// eventually cause via the sync path.
type permit struct {
	TokenID  string `json:"tokenId" binding:"required"`
	Renter   string `json:"renter"`
	Operator string `json:"operator"`
	Expires  int64  `json:"expires"`
	Nonce    int64  `json:"nonce"`
	Deadline int64  `json:"deadline"`
}

type enableRequest struct {
	Permit         permit `json:"permit" binding:"required"`
	Sig            string `json:"sig" binding:"required"`
	ChainID        *int64 `json:"chainId,omitempty"`
	NfaAddress     string `json:"nfaAddress,omitempty"`
	WaitForReceipt bool   `json:"waitForReceipt,omitempty"`
}

func (h *handler) enable(c *gin.Context) {
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid request body", "VALIDATION_FAILED", err.Error()))
		return
	}
	tokenID, err := runner.ParseTokenID(req.Permit.TokenID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(err.Error(), "VALIDATION_FAILED", nil))
		return
	}
	if err := h.sched.EnableStrategy(c.Request.Context(), tokenID); err != nil {
		c.JSON(http.StatusInternalServerError, errBody("enable failed", "INTERNAL", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenId": req.Permit.TokenID, "enabled": true})
}

type disableRequest struct {
	TokenID        string `json:"tokenId" binding:"required"`
	Mode           string `json:"mode,omitempty"`
	WaitForReceipt bool   `json:"waitForReceipt,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func (h *handler) disable(c *gin.Context) {
	var req disableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid request body", "VALIDATION_FAILED", err.Error()))
		return
	}
	tokenID, err := runner.ParseTokenID(req.TokenID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(err.Error(), "VALIDATION_FAILED", nil))
		return
	}
	// mode=onchain would additionally broadcast an on-chain disable tx;
	// that submission path is the same out-of-scope chain I/O as /enable's
	// permit redemption, so both modes take the local effect here.
	if err := h.sched.DisableStrategy(c.Request.Context(), tokenID, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, errBody("disable failed", "INTERNAL", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenId": req.TokenID, "enabled": false})
}

func (h *handler) strategyUpsert(c *gin.Context) {
	var cfg models.StrategyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid strategy payload", "VALIDATION_FAILED", err.Error()))
		return
	}
	if cfg.TokenID == nil {
		c.JSON(http.StatusBadRequest, errBody("tokenId is required", "VALIDATION_FAILED", nil))
		return
	}
	if err := h.sched.UpsertStrategy(c.Request.Context(), &cfg); err != nil {
		c.JSON(http.StatusInternalServerError, errBody("strategy upsert failed", "INTERNAL", err.Error()))
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *handler) marketSignal(c *gin.Context) {
	var signal models.MarketSignal
	if err := c.ShouldBindJSON(&signal); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid market signal payload", "VALIDATION_FAILED", err.Error()))
		return
	}
	if err := h.sched.IngestMarketSignal(c.Request.Context(), &signal); err != nil {
		c.JSON(http.StatusInternalServerError, errBody("ingest failed", "INTERNAL", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ingested": 1})
}

func (h *handler) marketSignalBatch(c *gin.Context) {
	var signals []*models.MarketSignal
	if err := c.ShouldBindJSON(&signals); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid market signal batch", "VALIDATION_FAILED", err.Error()))
		return
	}
	if err := h.sched.IngestMarketSignals(c.Request.Context(), signals); err != nil {
		c.JSON(http.StatusInternalServerError, errBody("ingest failed", "INTERNAL", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ingested": len(signals)})
}

// marketSignalSync acknowledges a manual sync trigger and does nothing
// else: it starts no fetch, and cmd/runner does not start a
// workers.MarketSignalWorker, so signals arrive only through the
// /market/signal and /market/signal/batch routes.
func (h *handler) marketSignalSync(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *handler) status(c *gin.Context) {
	tokenID, err := runner.ParseTokenID(c.Query("tokenId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(err.Error(), "VALIDATION_FAILED", nil))
		return
	}
	runsLimit := 20
	if raw := c.Query("runsLimit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			runsLimit = n
		}
	}
	status, err := h.sched.Status(c.Request.Context(), tokenID, runsLimit)
	if err != nil {
		c.JSON(http.StatusNotFound, errBody("agent not found", "NOT_FOUND", err.Error()))
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handler) statusAll(c *gin.Context) {
	statuses, err := h.sched.StatusAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errBody("status fetch failed", "INTERNAL", err.Error()))
		return
	}
	c.JSON(http.StatusOK, statuses)
}

func (h *handler) health(c *gin.Context) {
	if err := h.sched.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *handler) shadowMetrics(c *gin.Context) {
	since := sinceFromHours(c.Query("sinceHours"), 24)
	tokenID, err := optionalTokenID(c.Query("tokenId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(err.Error(), "VALIDATION_FAILED", nil))
		return
	}
	metrics, err := h.sched.ShadowMetrics(c.Request.Context(), since, tokenID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errBody("shadow metrics failed", "INTERNAL", err.Error()))
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (h *handler) safetyMetrics(c *gin.Context) {
	tokenID, err := runner.ParseTokenID(c.Param("tokenId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(err.Error(), "VALIDATION_FAILED", nil))
		return
	}
	since := sinceFromHours(c.Query("sinceHours"), 24*7)
	metrics, err := h.sched.SafetyMetrics(c.Request.Context(), tokenID, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errBody("safety metrics failed", "INTERNAL", err.Error()))
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (h *handler) safetyTimeline(c *gin.Context) {
	tokenID, err := runner.ParseTokenID(c.Param("tokenId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(err.Error(), "VALIDATION_FAILED", nil))
		return
	}
	since := sinceFromHours(c.Query("sinceHours"), 24*7)
	bucket := time.Hour
	if raw := c.Query("bucketMinutes"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			bucket = time.Duration(n) * time.Minute
		}
	}
	timeline, err := h.sched.SafetyTimeline(c.Request.Context(), tokenID, since, bucket)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errBody("safety timeline failed", "INTERNAL", err.Error()))
		return
	}
	c.JSON(http.StatusOK, timeline)
}

func (h *handler) safetyViolations(c *gin.Context) {
	tokenID, err := runner.ParseTokenID(c.Param("tokenId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(err.Error(), "VALIDATION_FAILED", nil))
		return
	}
	since := sinceFromHours(c.Query("sinceHours"), 24*7)
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	violations, err := h.sched.SafetyViolations(c.Request.Context(), tokenID, since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errBody("safety violations failed", "INTERNAL", err.Error()))
		return
	}
	c.JSON(http.StatusOK, violations)
}

func sinceFromHours(raw string, defaultHours int) time.Time {
	hours := defaultHours
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			hours = n
		}
	}
	return time.Now().Add(-time.Duration(hours) * time.Hour)
}

func optionalTokenID(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	return runner.ParseTokenID(raw)
}
