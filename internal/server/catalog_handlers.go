package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/turfledger/internal/catalog"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context(), catalog.ProductFilter{
		Search: c.Query("search"),
		Type:   c.Query("type"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *httpHandler) handleGetProduct(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	product, err := h.catalog.GetProduct(c.Request.Context(), productID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *httpHandler) handleCreateProduct(c *gin.Context) {
	var input catalog.ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	product, err := h.catalog.CreateProduct(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *httpHandler) handleUpdateProduct(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var input catalog.ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	product, err := h.catalog.UpdateProduct(c.Request.Context(), productID, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *httpHandler) handleDeleteProduct(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteProduct(c.Request.Context(), productID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleCalculate(c *gin.Context) {
	var input catalog.CalculationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	calculation, err := h.catalog.Calculate(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, calculation)
}
