package ginserver

import (
	"errors"
	"net/http"

	gin "github.com/gin-gonic/gin"

	depositsapp "rentme-deposits/internal/app/handlers/deposits"
	"rentme-deposits/internal/app/middleware"
)

var codeStatus = map[string]int{
	"invalid_request":     http.StatusBadRequest,
	"not_found":           http.StatusNotFound,
	"forbidden":           http.StatusForbidden,
	"not_eligible":        http.StatusUnprocessableEntity,
	"conflict":            http.StatusConflict,
	"gateway_rejected":    http.StatusBadGateway,
	"gateway_unavailable": http.StatusServiceUnavailable,
	"finalize_failed":     http.StatusInternalServerError,
	"internal":            http.StatusInternalServerError,
}

// writeError renders the stable error code plus, for ineligible deposits,
// the reason the evaluator gave.
func writeError(c *gin.Context, err error) {
	code, status := classify(err)
	body := gin.H{"success": false, "error": code}
	var notEligible *depositsapp.NotEligibleError
	if errors.As(err, &notEligible) {
		body["reason"] = string(notEligible.Reason)
	}
	if status < http.StatusInternalServerError {
		body["message"] = err.Error()
	}
	c.JSON(status, body)
}

func classify(err error) (string, int) {
	switch {
	case errors.Is(err, middleware.ErrUnauthenticated):
		return "unauthenticated", http.StatusUnauthorized
	case errors.Is(err, middleware.ErrKeyReused):
		return "idempotency_key_reused", http.StatusConflict
	}
	code := depositsapp.ErrorCode(err)
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return code, status
}
