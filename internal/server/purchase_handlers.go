package server

import (
	"bytes"
	"net/http"

	"github.com/MarcoPoloResearchLab/turfledger/internal/purchases"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const workbookContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func purchaseFilter(c *gin.Context) (purchases.Filter, bool) {
	productID, ok := queryInt64(c, "product_id")
	if !ok {
		return purchases.Filter{}, false
	}
	return purchases.Filter{
		Month:     c.Query("month"),
		From:      c.Query("from"),
		To:        c.Query("to"),
		ProductID: productID,
	}, true
}

func (h *httpHandler) handleListPurchases(c *gin.Context) {
	filter, ok := purchaseFilter(c)
	if !ok {
		return
	}
	views, err := h.purchases.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleGetPurchase(c *gin.Context) {
	purchaseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.purchases.Get(c.Request.Context(), purchaseID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleUpdatePurchase(c *gin.Context) {
	purchaseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var update purchases.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	purchase, err := h.purchases.Update(c.Request.Context(), currentUser(c), purchaseID, update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

func (h *httpHandler) handleCOGSReport(c *gin.Context) {
	filter, ok := purchaseFilter(c)
	if !ok {
		return
	}
	report, err := h.purchases.Report(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) handleCOGSWorkbook(c *gin.Context) {
	filter, ok := purchaseFilter(c)
	if !ok {
		return
	}
	report, err := h.purchases.Report(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	var buffer bytes.Buffer
	if err := purchases.WriteWorkbook(&buffer, report); err != nil {
		h.logger.Error("failed to render cogs workbook", zap.String("period", report.Period), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+purchases.WorkbookFilename(report)+`"`)
	c.Data(http.StatusOK, workbookContentType, buffer.Bytes())
}
