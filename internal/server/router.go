package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/applications"
	"github.com/MarcoPoloResearchLab/turfledger/internal/audit"
	"github.com/MarcoPoloResearchLab/turfledger/internal/auth"
	"github.com/MarcoPoloResearchLab/turfledger/internal/catalog"
	"github.com/MarcoPoloResearchLab/turfledger/internal/inventory"
	"github.com/MarcoPoloResearchLab/turfledger/internal/ipm"
	"github.com/MarcoPoloResearchLab/turfledger/internal/properties"
	"github.com/MarcoPoloResearchLab/turfledger/internal/purchases"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "turfledger_user_id"
	userRoleContextKey = "turfledger_user_role"

	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingCatalog          = errors.New("catalog service dependency required")
	errMissingInventory        = errors.New("inventory ledger dependency required")
	errMissingApplications     = errors.New("application manager dependency required")
	errMissingProperties       = errors.New("property service dependency required")
	errMissingPurchases        = errors.New("purchase ledger dependency required")
	errMissingIPM              = errors.New("ipm service dependency required")
	errMissingAudit            = errors.New("audit recorder dependency required")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Sessions          SessionValidator
	Catalog           *catalog.Service
	Inventory         *inventory.Ledger
	Applications      *applications.Manager
	Properties        *properties.Service
	Purchases         *purchases.Ledger
	IPM               *ipm.Service
	Audit             *audit.Recorder
	Realtime          *RealtimeDispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Catalog == nil:
		return nil, errMissingCatalog
	case deps.Inventory == nil:
		return nil, errMissingInventory
	case deps.Applications == nil:
		return nil, errMissingApplications
	case deps.Properties == nil:
		return nil, errMissingProperties
	case deps.Purchases == nil:
		return nil, errMissingPurchases
	case deps.IPM == nil:
		return nil, errMissingIPM
	case deps.Audit == nil:
		return nil, errMissingAudit
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:          deps.Sessions,
		catalog:           deps.Catalog,
		inventory:         deps.Inventory,
		applications:      deps.Applications,
		properties:        deps.Properties,
		purchases:         deps.Purchases,
		ipm:               deps.IPM,
		audit:             deps.Audit,
		realtime:          realtime,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)

	api.GET("/products", handler.handleListProducts)
	api.GET("/products/:id", handler.handleGetProduct)
	api.POST("/products", requireAdmin, handler.handleCreateProduct)
	api.PUT("/products/:id", requireAdmin, handler.handleUpdateProduct)
	api.DELETE("/products/:id", requireAdmin, handler.handleDeleteProduct)
	api.POST("/calculator/calculate", handler.handleCalculate)

	api.GET("/inventory", handler.handleListInventory)
	api.GET("/inventory/log", handler.handleListInventoryLog)
	api.GET("/inventory/stream", handler.handleInventoryStream)
	api.POST("/inventory/adjust", handler.handleAdjustInventory)
	api.PUT("/inventory/:productId/threshold", handler.handleSetThreshold)
	api.POST("/inventory/receive", handler.handleReceive)

	api.GET("/applications", handler.handleListApplications)
	api.GET("/applications/:id", handler.handleGetApplication)
	api.POST("/applications", handler.handleCreateApplication)
	api.PUT("/applications/:id", handler.handleEditApplication)
	api.POST("/applications/sync", handler.handleSyncApplications)
	api.POST("/applications/:id/lock", handler.handleLockApplication)

	api.GET("/properties", handler.handleListProperties)
	api.GET("/properties/:id", handler.handleGetProperty)
	api.POST("/properties", handler.handleCreateProperty)
	api.PUT("/properties/:id", handler.handleUpdateProperty)
	api.DELETE("/properties/:id", requireAdmin, handler.handleDeleteProperty)
	api.POST("/properties/import", requireAdmin, handler.handleImportProperties)
	api.GET("/properties/:id/zones", handler.handleListZones)
	api.POST("/properties/:id/zones", handler.handleAddZone)
	api.PUT("/properties/:id/zones/:zoneId", handler.handleUpdateZone)
	api.DELETE("/properties/:id/zones/:zoneId", handler.handleDeleteZone)
	api.GET("/properties/:id/ipm-cases", handler.handleListPropertyIPMCases)

	api.GET("/ipm/cases", handler.handleListIPMCases)
	api.GET("/ipm/cases/:id", handler.handleGetIPMCase)
	api.POST("/ipm/cases", handler.handleCreateIPMCase)
	api.PUT("/ipm/cases/:id", handler.handleUpdateIPMCase)
	api.POST("/ipm/cases/:id/observations", handler.handleAddIPMObservation)

	api.GET("/purchases", handler.handleListPurchases)
	api.GET("/purchases/cogs", handler.handleCOGSReport)
	api.GET("/purchases/cogs.xlsx", handler.handleCOGSWorkbook)
	api.GET("/purchases/:id", handler.handleGetPurchase)
	api.PUT("/purchases/:id", handler.handleUpdatePurchase)

	api.GET("/audit-log", requireAdmin, handler.handleListAudit)

	return router, nil
}

type httpHandler struct {
	sessions          SessionValidator
	catalog           *catalog.Service
	inventory         *inventory.Ledger
	applications      *applications.Manager
	properties        *properties.Service
	purchases         *purchases.Ledger
	ipm               *ipm.Service
	audit             *audit.Recorder
	realtime          *RealtimeDispatcher
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}
