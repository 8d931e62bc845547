package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/turfledger/internal/applications"
	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	"github.com/MarcoPoloResearchLab/turfledger/internal/purchases"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusForKind(kind failure.Kind) int {
	switch kind {
	case failure.KindNotFound:
		return http.StatusNotFound
	case failure.KindLocked:
		return http.StatusForbidden
	case failure.KindValidation:
		return http.StatusBadRequest
	case failure.KindBatchItem:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": reason, "code": code} with the status mapped from the error kind.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	var classified *failure.Error
	if !errors.As(err, &classified) {
		h.logger.Error("unclassified service error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	status := statusForKind(classified.Kind())
	body := gin.H{"error": classified.Reason(), "code": classified.Code()}
	switch classified.Kind() {
	case failure.KindLocked:
		body["error"] = applications.LockedMessage
	case failure.KindValidation, failure.KindBatchItem:
		if cause := classified.Unwrap(); cause != nil {
			body["message"] = cause.Error()
		}
		var item *purchases.ItemError
		if errors.As(err, &item) {
			body["item"] = item.Index + 1
			body["product_id"] = item.ProductID
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", classified.Code()), zap.Error(err))
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reason})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid_"+name)
		return 0, false
	}
	return id, true
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		badRequest(c, "invalid_"+name)
		return 0, false
	}
	return value, true
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
