package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/applications"
	"github.com/MarcoPoloResearchLab/turfledger/internal/audit"
	"github.com/MarcoPoloResearchLab/turfledger/internal/auth"
	"github.com/MarcoPoloResearchLab/turfledger/internal/catalog"
	"github.com/MarcoPoloResearchLab/turfledger/internal/config"
	"github.com/MarcoPoloResearchLab/turfledger/internal/database"
	"github.com/MarcoPoloResearchLab/turfledger/internal/inventory"
	"github.com/MarcoPoloResearchLab/turfledger/internal/ipm"
	"github.com/MarcoPoloResearchLab/turfledger/internal/logging"
	"github.com/MarcoPoloResearchLab/turfledger/internal/properties"
	"github.com/MarcoPoloResearchLab/turfledger/internal/purchases"
	"github.com/MarcoPoloResearchLab/turfledger/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	defaults := config.NewViper()
	cmd.Flags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	if err := viper.BindPFlag("http.address", cmd.Flags().Lookup("http-address")); err != nil {
		panic(err)
	}
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the schema and apply data migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadDatabase(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := openDatabase(appConfig, logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	return database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
}

type services struct {
	catalog      *catalog.Service
	inventory    *inventory.Ledger
	applications *applications.Manager
	properties   *properties.Service
	purchases    *purchases.Ledger
	ipm          *ipm.Service
	audit        *audit.Recorder
}

func buildServices(db *gorm.DB, notifier inventory.ChangeNotifier, logger *zap.Logger) (services, error) {
	recorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db, Logger: logger})
	if err != nil {
		return services{}, err
	}
	ledger, err := inventory.NewLedger(inventory.LedgerConfig{Database: db, Notifier: notifier, Logger: logger})
	if err != nil {
		return services{}, err
	}
	manager, err := applications.NewManager(applications.ManagerConfig{
		Database:  db,
		Inventory: ledger,
		Audit:     recorder,
		Logger:    logger,
	})
	if err != nil {
		return services{}, err
	}
	purchaseLedger, err := purchases.NewLedger(purchases.LedgerConfig{
		Database:  db,
		Inventory: ledger,
		Audit:     recorder,
		Logger:    logger,
	})
	if err != nil {
		return services{}, err
	}
	ipmService, err := ipm.NewService(ipm.ServiceConfig{
		Database: db,
		Audit:    recorder,
		Logger:   logger,
	})
	if err != nil {
		return services{}, err
	}
	propertyService, err := properties.NewService(properties.ServiceConfig{
		Database:     db,
		Applications: manager,
		Cases:        ipmService,
		Audit:        recorder,
		Logger:       logger,
	})
	if err != nil {
		return services{}, err
	}
	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database:   db,
		Stock:      ledger,
		References: []catalog.ReferenceCounter{ledger, manager, purchaseLedger},
		Logger:     logger,
	})
	if err != nil {
		return services{}, err
	}
	return services{
		catalog:      catalogService,
		inventory:    ledger,
		applications: manager,
		properties:   propertyService,
		purchases:    purchaseLedger,
		ipm:          ipmService,
		audit:        recorder,
	}, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	built, err := buildServices(db, dispatcher, logger)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Catalog:        built.catalog,
		Inventory:      built.inventory,
		Applications:   built.applications,
		Properties:     built.properties,
		Purchases:      built.purchases,
		IPM:            built.ipm,
		Audit:          built.audit,
		Realtime:       dispatcher,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
