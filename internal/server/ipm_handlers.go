package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/turfledger/internal/ipm"
	"github.com/gin-gonic/gin"
)

type observationRequestPayload struct {
	Notes string `json:"notes"`
}

func (h *httpHandler) handleListIPMCases(c *gin.Context) {
	propertyID, ok := queryInt64(c, "property_id")
	if !ok {
		return
	}
	listed, err := h.ipm.List(c.Request.Context(), ipm.Filter{PropertyID: propertyID, Status: c.Query("status")})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listed)
}

func (h *httpHandler) handleListPropertyIPMCases(c *gin.Context) {
	propertyID, ok := pathID(c, "id")
	if !ok {
		return
	}
	listed, err := h.ipm.List(c.Request.Context(), ipm.Filter{PropertyID: propertyID})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listed)
}

func (h *httpHandler) handleGetIPMCase(c *gin.Context) {
	caseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.ipm.Get(c.Request.Context(), caseID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *httpHandler) handleCreateIPMCase(c *gin.Context) {
	var input ipm.CaseInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	created, err := h.ipm.Create(c.Request.Context(), currentUser(c), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleUpdateIPMCase(c *gin.Context) {
	caseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var update ipm.CaseUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	updated, err := h.ipm.Update(c.Request.Context(), currentUser(c), caseID, update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleAddIPMObservation(c *gin.Context) {
	caseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var request observationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	observation, err := h.ipm.AddObservation(c.Request.Context(), currentUser(c), caseID, request.Notes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, observation)
}
