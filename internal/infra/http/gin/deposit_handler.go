package ginserver

import (
	"net/http"

	gin "github.com/gin-gonic/gin"

	"rentme-deposits/internal/app/commands"
	"rentme-deposits/internal/app/dto"
	depositsapp "rentme-deposits/internal/app/handlers/deposits"
	"rentme-deposits/internal/app/queries"
)

type DepositHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
}

func (h DepositHandler) Release(c *gin.Context) {
	user, ok := requireCaller(c)
	if !ok {
		return
	}
	if h.Commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands unavailable"})
		return
	}
	cmd := depositsapp.ReleaseDepositCommand{
		BookingID:       c.Param("id"),
		CallerID:        user.ID,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[depositsapp.ReleaseDepositCommand, *depositsapp.ReleaseDepositResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h DepositHandler) Get(c *gin.Context) {
	user, ok := requireCaller(c)
	if !ok {
		return
	}
	if h.Queries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queries unavailable"})
		return
	}
	q := depositsapp.GetDepositQuery{BookingID: c.Param("id"), CallerID: user.ID}
	view, err := queries.Ask[depositsapp.GetDepositQuery, dto.DepositView](c.Request.Context(), h.Queries, q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

var _ DepositHTTP = DepositHandler{}
