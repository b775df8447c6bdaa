package server

import (
	"context"
	"net/http"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/memories"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/payments"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleShowCode(c *gin.Context) {
	code, err := h.memories.FindCode(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	price := wholeUnits(h.memories.Policy().Price)
	switch {
	case code.Status == memories.CodeStatusPrinted && code.Memory == nil:
		c.JSON(http.StatusOK, codePageView{UUID: code.UUID, Status: string(code.Status), PhotoExtensionPrice: price})
	case code.Status == memories.CodeStatusPublic && code.Memory != nil:
		view := newMemoryView(*code.Memory)
		c.JSON(http.StatusOK, codePageView{
			UUID:                code.UUID,
			Status:              string(code.Status),
			Memory:              &view,
			PhotoExtensionPrice: price,
			CanEdit:             h.memories.CanEdit(principalFrom(c), code),
		})
	default:
		c.JSON(http.StatusNotFound, failure("not_found"))
	}
}

// handleSubmitCode claims a printed code or adds photos to a published memory.
func (h *httpHandler) handleSubmitCode(c *gin.Context) {
	ctx := c.Request.Context()
	code, err := h.memories.FindCode(ctx, c.Param("uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	form, err := readForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, failure("invalid_form"))
		return
	}

	switch {
	case code.Status == memories.CodeStatusPrinted && code.MemoryID == nil:
		h.claimCode(c, code, form)
	case code.Status == memories.CodeStatusPublic && code.MemoryID != nil:
		result, err := h.memories.UploadPhotos(ctx, principalFrom(c), code.UUID, form.photoUploads(), form.intentInput())
		if err != nil {
			h.respondError(c, err)
			return
		}
		h.observeUpload(result.Upload)
		status := http.StatusOK
		if result.Upload.Rejected() {
			status = http.StatusPaymentRequired
		}
		c.JSON(status, newUploadView(result.Code, result.Memory, result.Upload))
	default:
		c.JSON(http.StatusNotFound, failure("not_found"))
	}
}

func (h *httpHandler) claimCode(c *gin.Context, code memories.QrCode, form requestForm) {
	ctx := c.Request.Context()
	profile, _ := form.profile()
	result, err := h.memories.Claim(ctx, code.UUID, memories.ClaimRequest{
		Email:   form.value("email"),
		Profile: profile,
		Files:   form.photoUploads(),
		Intent:  form.intentInput(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.observeUpload(result.Upload)
	h.logger.Info("code claimed",
		zap.String("code", result.Code.UUID),
		zap.Uint("memory_id", result.Memory.ID),
		zap.Uint("client_id", result.Client.ID))

	view := newUploadView(result.Code, result.Memory, result.Upload)
	view.Success = true
	if form.flag(fieldWantExtension) {
		view.Extension = h.extendAfterClaim(ctx, result.Memory)
		if view.Extension == string(payments.OutcomeExtended) {
			view.Memory.IsExtended = true
		}
	}
	c.JSON(http.StatusCreated, view)
}

// extendAfterClaim charges the extension on a best-effort basis; a missing balance is not an
// error for the claim itself.
func (h *httpHandler) extendAfterClaim(ctx context.Context, memory memories.Memory) string {
	result, err := h.ledger.Extend(context.WithoutCancel(ctx), memory.ID, h.memories.Policy().Price)
	if err != nil {
		h.logger.Error("extension after claim failed", zap.Uint("memory_id", memory.ID), zap.Error(err))
		return ""
	}
	metrics.ObserveExtension(string(result.Outcome))
	if result.Outcome == payments.OutcomeInsufficientFunds {
		h.logger.Info("extension after claim skipped",
			zap.Uint("memory_id", memory.ID),
			zap.String("required", result.Required.String()),
			zap.String("available", result.Available.String()))
	}
	return string(result.Outcome)
}

func (h *httpHandler) handleShowEdit(c *gin.Context) {
	code, err := h.memories.FindCode(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if code.Memory == nil {
		c.JSON(http.StatusNotFound, failure("not_found"))
		return
	}
	if !h.memories.CanEdit(principalFrom(c), code) {
		c.JSON(http.StatusForbidden, failure("forbidden"))
		return
	}
	view := newMemoryView(*code.Memory)
	policy := h.memories.Policy()
	c.JSON(http.StatusOK, gin.H{
		"uuid":                code.UUID,
		"status":              string(code.Status),
		"memory":              view,
		"quota":               newQuotaView(policy.Status(code.Memory)),
		"photoExtensionPrice": wholeUnits(policy.Price),
	})
}

func (h *httpHandler) handleSubmitEdit(c *gin.Context) {
	form, err := readForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, failure("invalid_form"))
		return
	}
	request := memories.EditRequest{
		Files:  form.photoUploads(),
		Intent: form.intentInput(),
	}
	if profile, ok := form.profile(); ok {
		request.Profile = &profile
	}
	result, err := h.memories.Edit(c.Request.Context(), principalFrom(c), c.Param("uuid"), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.observeUpload(result.Upload)
	view := newUploadView(result.Code, result.Memory, result.Upload)
	view.Success = true
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleClearPhotos(c *gin.Context) {
	memory, err := h.memories.ClearPhotos(c.Request.Context(), principalFrom(c), c.Param("uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "memory": newMemoryView(memory)})
}

func (h *httpHandler) handleListCodes(c *gin.Context) {
	codes, err := h.memories.ListCodes(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	items := make([]codeListItemView, 0, len(codes))
	for _, code := range codes {
		items = append(items, newCodeListItemView(code))
	}
	c.JSON(http.StatusOK, gin.H{"codes": items})
}

func (h *httpHandler) handlePreviewMainPhoto(c *gin.Context) {
	h.servePreviews(c, memories.PreviewMainPhoto)
}

func (h *httpHandler) handlePreviewArchive(c *gin.Context) {
	h.servePreviews(c, memories.PreviewArchive)
}

func (h *httpHandler) servePreviews(c *gin.Context, kind memories.PreviewKind) {
	previews, err := h.memories.Previews(c.Request.Context(), principalFrom(c), c.Param("uuid"), kind)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPreviewViews(previews))
}

func (h *httpHandler) handleCheckUploadLimit(c *gin.Context) {
	status, _, err := h.memories.QuotaStatus(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quotaResponse(status, true))
}

// handleArchiveCount reports success=false for codes without a memory.
func (h *httpHandler) handleArchiveCount(c *gin.Context) {
	status, hasMemory, err := h.memories.QuotaStatus(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quotaResponse(status, hasMemory))
}

func quotaResponse(status memories.QuotaStatus, success bool) gin.H {
	view := newQuotaView(status)
	return gin.H{
		"success":      success,
		"canUpload":    view.CanUpload,
		"currentCount": view.CurrentCount,
		"isExtended":   view.IsExtended,
		"freeLimit":    view.FreeLimit,
		"remaining":    view.Remaining,
		"price":        view.Price,
	}
}

func (h *httpHandler) observeUpload(upload memories.UploadResult) {
	if upload.Intent == "" {
		return
	}
	metrics.ObservePhotoBatch(string(upload.Intent), len(upload.Written), len(upload.Denied))
}
