package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/approval"
	approvalPostgres "github.com/frahmantamala/rental-management/internal/approval/postgres"
	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/auth"
	authPostgres "github.com/frahmantamala/rental-management/internal/auth/postgres"
	"github.com/frahmantamala/rental-management/internal/core/database"
	"github.com/frahmantamala/rental-management/internal/core/events"
	"github.com/frahmantamala/rental-management/internal/mutation"
	"github.com/frahmantamala/rental-management/internal/reconciliation"
	reconciliationPostgres "github.com/frahmantamala/rental-management/internal/reconciliation/postgres"
	"github.com/frahmantamala/rental-management/internal/records"
	"github.com/frahmantamala/rental-management/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// App is the wired component graph shared by the server and the workers.
type App struct {
	Config *internal.Config
	Logger *slog.Logger

	SQL  *sqlx.DB
	Gorm *gorm.DB
	Bus  *events.EventBus

	Files          *attachment.FileStore
	Records        *records.Store
	Reconciliation *reconciliation.Engine
	Applier        *records.Applier
	Approvals      *approval.Service
	Mutations      *mutation.Service
	Auth           *auth.Service
}

func buildApp(cfg *internal.Config) (*App, error) {
	logger.Init(logger.Options{
		Env:    cfg.Observability.Logging.Env,
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
	lg := logger.LoggerWrapper()

	sqlDB, gormDB, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.Storage.BaseDir, 0o755); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to prepare storage directory: %w", err)
	}
	files := attachment.NewFileStore(fs, cfg.Storage.BaseDir, cfg.Storage.PublicURL, cfg.Storage.Timeout)

	bus := events.NewEventBus(lg)
	timeout := cfg.Database.QueryTimeout

	store := records.NewStore(gormDB, timeout)
	blobs := attachment.NewReconciler(files, lg)
	engine := reconciliation.NewEngine(
		reconciliationPostgres.NewReconciliationRepository(gormDB, sqlDB, timeout), bus, lg)
	applier := records.NewApplier(store, blobs, engine, lg)

	approvals := approval.NewService(
		approvalPostgres.NewApprovalRepository(gormDB, sqlDB, timeout),
		database.NewTransactionManager(gormDB),
		store,
		applier,
		blobs,
		bus,
		lg,
	)

	tokens := auth.NewJWTTokenGenerator(
		cfg.Security.AccessTokenSecret,
		cfg.Security.RefreshTokenSecret,
		cfg.Security.AccessTokenDuration,
		cfg.Security.RefreshTokenDuration,
	)

	return &App{
		Config:         cfg,
		Logger:         lg,
		SQL:            sqlDB,
		Gorm:           gormDB,
		Bus:            bus,
		Files:          files,
		Records:        store,
		Reconciliation: engine,
		Applier:        applier,
		Approvals:      approvals,
		Mutations:      mutation.NewService(applier, approvals, store, lg),
		Auth:           auth.NewService(authPostgres.NewRepository(gormDB), tokens, cfg.Security.BCryptCost),
	}, nil
}

// Close waits for in-flight event handlers and closes the database pool.
func (a *App) Close(ctx context.Context) {
	if err := a.Bus.Drain(ctx); err != nil {
		a.Logger.Warn("event handlers still running at shutdown", "error", err)
	}
	if err := a.SQL.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}
}

// initDB opens one pgx pool and shares it between sqlx and gorm.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, *gorm.DB, error) {
	const driver = "pgx"

	sqlDB, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB.DB}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	return sqlDB, gormDB, nil
}
