package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/turfledger/internal/audit"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListAudit(c *gin.Context) {
	recordID, ok := queryInt64(c, "record_id")
	if !ok {
		return
	}
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}
	entries, err := h.audit.List(c.Request.Context(), audit.Filter{
		RecordType: c.Query("record_type"),
		RecordID:   recordID,
		UserID:     c.Query("user_id"),
		Limit:      int(limit),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
