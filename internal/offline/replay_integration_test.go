package offline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/applications"
	"github.com/MarcoPoloResearchLab/turfledger/internal/audit"
	"github.com/MarcoPoloResearchLab/turfledger/internal/auth"
	"github.com/MarcoPoloResearchLab/turfledger/internal/catalog"
	"github.com/MarcoPoloResearchLab/turfledger/internal/database"
	"github.com/MarcoPoloResearchLab/turfledger/internal/inventory"
	"github.com/MarcoPoloResearchLab/turfledger/internal/ipm"
	"github.com/MarcoPoloResearchLab/turfledger/internal/offline"
	"github.com/MarcoPoloResearchLab/turfledger/internal/properties"
	"github.com/MarcoPoloResearchLab/turfledger/internal/purchases"
	"github.com/MarcoPoloResearchLab/turfledger/internal/server"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	integrationSecret = "integration-secret"
	integrationIssuer = "turfledger-auth"
)

type ledgerServer struct {
	url     string
	token   string
	ledger  *inventory.Ledger
	catalog *catalog.Service
}

func startLedgerServer(t *testing.T) ledgerServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:replay_integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db, zap.NewNop()))

	recorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db})
	require.NoError(t, err)
	ledger, err := inventory.NewLedger(inventory.LedgerConfig{Database: db})
	require.NoError(t, err)
	manager, err := applications.NewManager(applications.ManagerConfig{Database: db, Inventory: ledger, Audit: recorder})
	require.NoError(t, err)
	purchaseLedger, err := purchases.NewLedger(purchases.LedgerConfig{Database: db, Inventory: ledger, Audit: recorder})
	require.NoError(t, err)
	ipmService, err := ipm.NewService(ipm.ServiceConfig{Database: db, Audit: recorder})
	require.NoError(t, err)
	propertyService, err := properties.NewService(properties.ServiceConfig{Database: db, Applications: manager, Cases: ipmService, Audit: recorder})
	require.NoError(t, err)
	catalogService, err := catalog.NewService(catalog.ServiceConfig{Database: db, Stock: ledger})
	require.NoError(t, err)
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(integrationSecret),
		Issuer:        integrationIssuer,
		CookieName:    "app_session",
	})
	require.NoError(t, err)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:     validator,
		Catalog:      catalogService,
		Inventory:    ledger,
		Applications: manager,
		Properties:   propertyService,
		Purchases:    purchaseLedger,
		IPM:          ipmService,
		Audit:        recorder,
	})
	require.NoError(t, err)
	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(integrationSecret), Issuer: integrationIssuer})
	require.NoError(t, err)
	token, _, err := issuer.IssueSessionToken("tech-9", auth.RoleTechnician)
	require.NoError(t, err)

	return ledgerServer{url: httpServer.URL, token: token, ledger: ledger, catalog: catalogService}
}

func (s ledgerServer) stockedProduct(t *testing.T, quantity float64) int64 {
	t.Helper()
	ctx := context.Background()
	product, err := s.catalog.CreateProduct(ctx, catalog.ProductInput{
		Name:           "Dimension 2EW",
		EPARegNumber:   "62719-542",
		UnitOfMeasure:  "oz",
		TrackInventory: true,
	})
	require.NoError(t, err)
	_, err = s.ledger.Adjust(ctx, inventory.Adjustment{
		ProductID:    product.ID,
		ChangeAmount: quantity,
		Reason:       inventory.ReasonPurchase,
		UserID:       "admin-1",
	})
	require.NoError(t, err)
	return product.ID
}

func (s ledgerServer) quantity(t *testing.T) float64 {
	t.Helper()
	levels, err := s.ledger.ListStock(context.Background())
	require.NoError(t, err)
	require.Len(t, levels, 1)
	return levels[0].Quantity
}

func queuedPayload(t *testing.T, productID int64, used float64) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"application_date":   "2024-06-03",
		"address":            "12 Elm St",
		"product_id":         productID,
		"total_product_used": used,
		"app_rate_used":      1.5,
		"total_area_treated": 4000,
	})
	require.NoError(t, err)
	return payload
}

func TestReplayDeliversQueuedApplicationsOnce(t *testing.T) {
	ledgerAPI := startLedgerServer(t)
	productID := ledgerAPI.stockedProduct(t, 100)

	dsn := fmt.Sprintf("file:replay_queue_%d?mode=memory&cache=shared", time.Now().UnixNano())
	queueDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, queueDB.AutoMigrate(&offline.PendingSubmission{}))
	store, err := offline.NewStore(offline.StoreConfig{Database: queueDB})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Enqueue(ctx, queuedPayload(t, productID, 10))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, queuedPayload(t, productID, 5))
	require.NoError(t, err)
	queued, err := store.List(ctx)
	require.NoError(t, err)

	submitter, err := offline.NewHTTPSubmitter(offline.HTTPSubmitterConfig{BaseURL: ledgerAPI.url, SessionToken: ledgerAPI.token})
	require.NoError(t, err)
	replayer, err := offline.NewReplayer(store, submitter, nil)
	require.NoError(t, err)

	result, err := replayer.Replay(ctx)
	require.NoError(t, err)
	require.Equal(t, offline.ReplayResult{Synced: 2}, result)
	require.InDelta(t, 85, ledgerAPI.quantity(t), 1e-9)

	// A submission whose removal was lost is delivered again with the same key.
	again, err := submitter.Submit(ctx, queued[0])
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.InDelta(t, 85, ledgerAPI.quantity(t), 1e-9)

	remaining, err := store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestReplayKeepsRejectedSubmissions(t *testing.T) {
	ledgerAPI := startLedgerServer(t)
	productID := ledgerAPI.stockedProduct(t, 20)

	dsn := fmt.Sprintf("file:replay_rejected_%d?mode=memory&cache=shared", time.Now().UnixNano())
	queueDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, queueDB.AutoMigrate(&offline.PendingSubmission{}))
	store, err := offline.NewStore(offline.StoreConfig{Database: queueDB})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Enqueue(ctx, json.RawMessage(`{"address":"no date"}`))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, queuedPayload(t, productID, 4))
	require.NoError(t, err)

	submitter, err := offline.NewHTTPSubmitter(offline.HTTPSubmitterConfig{BaseURL: ledgerAPI.url, SessionToken: ledgerAPI.token})
	require.NoError(t, err)
	replayer, err := offline.NewReplayer(store, submitter, nil)
	require.NoError(t, err)

	result, err := replayer.Replay(ctx)
	require.NoError(t, err)
	require.Equal(t, offline.ReplayResult{Synced: 1, Failed: 1, Remaining: 1}, result)
	require.InDelta(t, 16, ledgerAPI.quantity(t), 1e-9)

	remaining, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Contains(t, remaining[0].LastError, "status 400")
	require.Contains(t, remaining[0].LastError, "missing_application_date")
}
