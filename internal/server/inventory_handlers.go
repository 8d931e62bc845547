package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/inventory"
	"github.com/MarcoPoloResearchLab/turfledger/internal/purchases"
	"github.com/gin-gonic/gin"
)

type adjustRequestPayload struct {
	ProductID    int64   `json:"product_id"`
	ChangeAmount float64 `json:"change_amount"`
	Reason       string  `json:"reason"`
}

type thresholdRequestPayload struct {
	ReorderThreshold *float64 `json:"reorder_threshold"`
}

type streamEventPayload struct {
	ProductIDs []int64 `json:"productIds"`
	Timestamp  string  `json:"timestamp"`
}

func (h *httpHandler) handleListInventory(c *gin.Context) {
	levels, err := h.inventory.ListStock(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, levels)
}

func (h *httpHandler) handleListInventoryLog(c *gin.Context) {
	productID, ok := queryInt64(c, "product_id")
	if !ok {
		return
	}
	applicationID, ok := queryInt64(c, "application_id")
	if !ok {
		return
	}
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}
	entries, err := h.inventory.ListLog(c.Request.Context(), inventory.LogFilter{
		ProductID:     productID,
		ApplicationID: applicationID,
		Limit:         int(limit),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// handleAdjustInventory accepts manual corrections only; application reasons belong to the
// application manager.
func (h *httpHandler) handleAdjustInventory(c *gin.Context) {
	var request adjustRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	if request.ProductID <= 0 {
		badRequest(c, "invalid_product_id")
		return
	}
	if request.ChangeAmount == 0 {
		badRequest(c, "zero_change")
		return
	}
	reason, err := inventory.ParseReason(request.Reason)
	if err != nil || !reason.Manual() {
		badRequest(c, "invalid_reason")
		return
	}
	quantity, err := h.inventory.Adjust(c.Request.Context(), inventory.Adjustment{
		ProductID:    request.ProductID,
		ChangeAmount: request.ChangeAmount,
		Reason:       reason,
		UserID:       currentUser(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": request.ProductID, "quantity": quantity})
}

func (h *httpHandler) handleSetThreshold(c *gin.Context) {
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	var request thresholdRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ReorderThreshold == nil {
		badRequest(c, "invalid_request")
		return
	}
	record, err := h.inventory.SetThreshold(c.Request.Context(), productID, *request.ReorderThreshold)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id":        record.ProductID,
		"quantity":          record.Quantity,
		"reorder_threshold": record.ReorderThreshold,
		"status":            record.Status(),
	})
}

func (h *httpHandler) handleReceive(c *gin.Context) {
	var receipt purchases.Receipt
	if err := c.ShouldBindJSON(&receipt); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	result, err := h.purchases.Receive(c.Request.Context(), currentUser(c), receipt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *httpHandler) handleInventoryStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, streamEventPayload{
				ProductIDs: message.ProductIDs,
				Timestamp:  message.Timestamp.Format(time.RFC3339),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}
