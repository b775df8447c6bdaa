package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/changerequests"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleSubmitChangeRequest(c *gin.Context) {
	ctx := c.Request.Context()
	code, err := h.memories.FindCode(ctx, c.Param("uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if code.MemoryID == nil {
		c.JSON(http.StatusNotFound, failure("not_found"))
		return
	}
	form, err := readForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, failure("invalid_form"))
		return
	}

	record, err := h.recorder.Submit(ctx, changerequests.Submission{
		CodeUUID: code.UUID,
		MemoryID: *code.MemoryID,
		Name:     form.value("name"),
		Email:    form.value("email"),
		Message:  form.value("message"),
		Files:    form.namedUploads(fieldPhotos),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	metrics.ObserveChangeRequest(string(record.Source))
	if record.Source == changerequests.SourceNone {
		h.logger.Error("change request not persisted", zap.String("request_id", record.ID), zap.String("code", code.UUID))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": record.ID})
}

func (h *httpHandler) handleOwnerChangeRequests(c *gin.Context) {
	ctx := c.Request.Context()
	owned, err := h.memories.OwnedMemories(ctx, principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	records, err := h.recorder.FindLatestForOwner(ctx, owned, changerequests.OwnerListLimit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": newChangeRequestViews(records)})
}

func (h *httpHandler) handleDashboard(c *gin.Context) {
	records, err := h.recorder.FindLatest(c.Request.Context(), changerequests.DashboardLimit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"latestChangeRequests": newChangeRequestViews(records)})
}
