package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/turfledger/internal/properties"
	"github.com/gin-gonic/gin"
)

type importRequestPayload struct {
	Properties []properties.Input `json:"properties"`
}

func (h *httpHandler) handleListProperties(c *gin.Context) {
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}
	listed, err := h.properties.List(c.Request.Context(), properties.Filter{
		Search: c.Query("search"),
		Limit:  int(limit),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listed)
}

func (h *httpHandler) handleGetProperty(c *gin.Context) {
	propertyID, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.properties.Get(c.Request.Context(), propertyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *httpHandler) handleCreateProperty(c *gin.Context) {
	var input properties.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	property, err := h.properties.Create(c.Request.Context(), currentUser(c), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, property)
}

func (h *httpHandler) handleUpdateProperty(c *gin.Context) {
	propertyID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var update properties.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	property, err := h.properties.Update(c.Request.Context(), currentUser(c), propertyID, update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, property)
}

func (h *httpHandler) handleDeleteProperty(c *gin.Context) {
	propertyID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.properties.Delete(c.Request.Context(), currentUser(c), propertyID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleImportProperties(c *gin.Context) {
	var request importRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	result, err := h.properties.Import(c.Request.Context(), currentUser(c), request.Properties)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleListZones(c *gin.Context) {
	propertyID, ok := pathID(c, "id")
	if !ok {
		return
	}
	zones, err := h.properties.ListZones(c.Request.Context(), propertyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, zones)
}

func (h *httpHandler) handleAddZone(c *gin.Context) {
	propertyID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var input properties.ZoneInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	result, err := h.properties.AddZone(c.Request.Context(), propertyID, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *httpHandler) handleUpdateZone(c *gin.Context) {
	propertyID, ok := pathID(c, "id")
	if !ok {
		return
	}
	zoneID, ok := pathID(c, "zoneId")
	if !ok {
		return
	}
	var update properties.ZoneUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	result, err := h.properties.UpdateZone(c.Request.Context(), propertyID, zoneID, update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleDeleteZone(c *gin.Context) {
	propertyID, ok := pathID(c, "id")
	if !ok {
		return
	}
	zoneID, ok := pathID(c, "zoneId")
	if !ok {
		return
	}
	result, err := h.properties.DeleteZone(c.Request.Context(), propertyID, zoneID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
