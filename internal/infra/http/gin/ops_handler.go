package ginserver

import (
	"errors"
	"io"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"rentme-deposits/internal/app/commands"
	depositsapp "rentme-deposits/internal/app/handlers/deposits"
	"rentme-deposits/internal/infra/obs"
)

const opsKeyHeader = "X-Ops-Key"

type OpsKeyVerifier interface {
	Verify(key string) error
}

// OpsHandler lets operators force a sweep. Requests are dry runs unless the
// body sets dry_run to false explicitly.
type OpsHandler struct {
	Commands commands.Bus
	Keys     OpsKeyVerifier
}

type sweepRequest struct {
	Limit  int   `json:"limit"`
	DryRun *bool `json:"dry_run"`
}

func (h OpsHandler) Sweep(c *gin.Context) {
	if h.Keys == nil || h.Keys.Verify(c.GetHeader(opsKeyHeader)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "operator key required"})
		return
	}
	if h.Commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands unavailable"})
		return
	}
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}
	cmd := depositsapp.SweepDepositsCommand{
		Limit:   req.Limit,
		DryRun:  dryRun,
		Trigger: depositsapp.TriggerOps,
		RunID:   obs.RequestIDFromContext(c.Request.Context()),
	}
	result, err := commands.Dispatch[depositsapp.SweepDepositsCommand, *depositsapp.SweepResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

var _ OpsHTTP = OpsHandler{}
