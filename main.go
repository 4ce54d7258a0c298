package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/auth"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/config"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/database"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/handlers"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/middleware"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/repositories"
	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.Host),
		zap.String("redis", cfg.Redis.Host))

	ctx := context.Background()

	// Migrations run over database/sql; the pool below is pgx-native.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	// Repositories
	attributeRepo := repositories.NewAttributeRepository()
	assignmentRepo := repositories.NewAssignmentRepository()
	ruleRepo := repositories.NewRuleRepository()
	suggestionRepo := repositories.NewSuggestionRepository()
	historyRepo := repositories.NewHistoryRepository()

	// Services
	notifier := services.NewChangeNotifier(redisClient, logger)
	valueStore := services.NewValueStoreService(attributeRepo, assignmentRepo, historyRepo, logger)
	weights := services.ScoreWeights{
		Click:      cfg.Engine.ClickWeight,
		Conversion: cfg.Engine.ConversionWeight,
		Search:     cfg.Engine.SearchWeight,
	}
	assignmentService := services.NewAssignmentService(assignmentRepo, historyRepo, valueStore, notifier, weights, logger)
	ruleEngine := services.NewRuleEngineService(ruleRepo, valueStore, assignmentService, cfg.Engine.BatchChunkSize, logger)
	suggestionService := services.NewSuggestionService(
		suggestionRepo, assignmentRepo, valueStore, assignmentService,
		services.NewLexicalScorer(),
		services.SuggestionConfig{
			ConfidenceFloor: cfg.Engine.ConfidenceFloor,
			MaxSuggestions:  cfg.Engine.MaxSuggestions,
			TTL:             time.Duration(cfg.Engine.SuggestionTTLDays) * 24 * time.Hour,
		},
		logger)

	// Auth
	validator, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSURL:            cfg.Auth.JWKSURL,
	})
	if err != nil {
		logger.Fatal("Failed to create JWKS client", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(validator, logger)
	tenantMiddleware := handlers.TenantMiddleware(database.WithTenantContext(db, logger))

	mux := http.NewServeMux()

	handlers.NewHealthHandler(db, cfg.Version, logger).RegisterRoutes(mux)
	handlers.NewAttributesHandler(valueStore, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewAssignmentsHandler(assignmentService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewRulesHandler(ruleEngine, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewSuggestionsHandler(suggestionService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)

	// Periodic expiry sweeps for assignments and suggestions.
	go runSweeps(ctx, db, assignmentService, suggestionService, logger)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting classify-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))

	handler := middleware.RequestLogger(logger)(mux)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// sweepInterval is how often the expiry sweeps run.
const sweepInterval = time.Hour

// runSweeps periodically expires assignments and suggestions past their
// expiry across all stores. Sweeps run with a store-unscoped connection
// since they are engine housekeeping, not user actions.
func runSweeps(ctx context.Context, db *database.DB, assignments *services.AssignmentService, suggestions *services.SuggestionService, logger *zap.Logger) {
	sweepLogger := logger.Named("expiry-sweep")
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		scope, err := db.WithoutTenant(ctx)
		if err != nil {
			sweepLogger.Warn("Failed to acquire sweep connection", zap.Error(err))
			continue
		}

		sweepCtx := database.SetTenantScope(ctx, scope)
		if _, err := assignments.SweepExpired(sweepCtx); err != nil {
			sweepLogger.Warn("Assignment sweep failed", zap.Error(err))
		}
		if _, err := suggestions.SweepExpired(sweepCtx); err != nil {
			sweepLogger.Warn("Suggestion sweep failed", zap.Error(err))
		}
		scope.Close()
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
