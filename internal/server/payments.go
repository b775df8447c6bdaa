package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/payments"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const balanceHistoryLimit = 20

// handleExtendPhotos lifts the archive limit of a memory, charging its owner.
func (h *httpHandler) handleExtendPhotos(c *gin.Context) {
	ctx := c.Request.Context()
	code, err := h.memories.FindCode(ctx, c.Param("uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if code.Memory == nil || code.MemoryID == nil {
		c.JSON(http.StatusNotFound, failure("not_found"))
		return
	}
	principal := principalFrom(c)
	if !principal.Authenticated() {
		c.JSON(http.StatusUnauthorized, failure("unauthorized"))
		return
	}
	if !h.memories.CanEdit(principal, code) {
		c.JSON(http.StatusForbidden, failure("forbidden"))
		return
	}

	result, err := h.ledger.Extend(ctx, *code.MemoryID, h.memories.Policy().Price)
	if err != nil {
		h.respondError(c, err)
		return
	}
	metrics.ObserveExtension(string(result.Outcome))

	switch result.Outcome {
	case payments.OutcomeInsufficientFunds:
		c.JSON(http.StatusPaymentRequired, gin.H{
			"success":   false,
			"error":     "insufficient_funds",
			"required":  result.Required.String(),
			"available": result.Available.String(),
		})
	case payments.OutcomeAlreadyExtended:
		c.JSON(http.StatusOK, gin.H{"success": true, "outcome": string(result.Outcome)})
	default:
		h.logger.Info("photo archive extended",
			zap.String("code", code.UUID),
			zap.Uint("memory_id", *code.MemoryID),
			zap.String("transaction_id", result.TransactionID))
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"outcome": string(result.Outcome),
			"balance": result.NewBalance.String(),
		})
	}
}

func (h *httpHandler) handleBalance(c *gin.Context) {
	ctx := c.Request.Context()
	principal := principalFrom(c)
	user, err := h.users.FindByID(ctx, principal.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	history, err := h.ledger.History(ctx, user.ID, balanceHistoryLimit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":      user.Balance().String(),
		"transactions": newTransactionViews(history),
	})
}
