package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/turfledger/internal/applications"
	"github.com/gin-gonic/gin"
)

// Records is a pointer so an absent array is told apart from an empty one.
type syncRequestPayload struct {
	Records *[]applications.Submission `json:"records"`
}

func (h *httpHandler) handleListApplications(c *gin.Context) {
	propertyID, ok := queryInt64(c, "property_id")
	if !ok {
		return
	}
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}
	records, err := h.applications.List(c.Request.Context(), applications.Filter{
		From:       c.Query("from"),
		To:         c.Query("to"),
		PropertyID: propertyID,
		Limit:      int(limit),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *httpHandler) handleGetApplication(c *gin.Context) {
	recordID, ok := pathID(c, "id")
	if !ok {
		return
	}
	record, err := h.applications.Get(c.Request.Context(), recordID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleCreateApplication(c *gin.Context) {
	var submission applications.Submission
	if err := c.ShouldBindJSON(&submission); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	result, err := h.applications.Create(c.Request.Context(), currentUser(c), submission)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *httpHandler) handleEditApplication(c *gin.Context) {
	recordID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var submission applications.Submission
	if err := c.ShouldBindJSON(&submission); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	record, err := h.applications.Edit(c.Request.Context(), currentUser(c), recordID, submission)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleSyncApplications(c *gin.Context) {
	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	if request.Records == nil {
		badRequest(c, "records_required")
		return
	}
	result, err := h.applications.Sync(c.Request.Context(), currentUser(c), *request.Records)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleLockApplication(c *gin.Context) {
	recordID, ok := pathID(c, "id")
	if !ok {
		return
	}
	record, err := h.applications.Lock(c.Request.Context(), currentUser(c), recordID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
