package handlers

import (
	"fmt"
	"testing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"votesecure-backend/cache"
	"votesecure-backend/lifecycle"
	"votesecure-backend/release"
	"votesecure-backend/store"
)

// SetupTestEnvironment sets up the Gin router, an isolated in-memory SQLite
// ledger and the lifecycle/release services for handler tests.
func SetupTestEnvironment(t *testing.T) (*gin.Engine, store.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}

	ledger := store.NewGormLedger(db)
	if err := ledger.Migrate(); err != nil {
		t.Fatalf("Failed to migrate ledger tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	locks := cache.NewLocalLockService()
	ctrl := lifecycle.NewController(ledger, locks, nil, nil)
	coord := release.NewCoordinator(ledger, locks, nil)
	InitHandler(ctrl, coord, nil)

	// Setup Router
	router := gin.New()
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization",
		"X-Organizer-ID", "X-Voter-ID", "X-Confirmer-ID"}
	router.Use(cors.New(config))

	// Setup Routes (same as in routes/router.go)
	api := router.Group("/api")
	{
		api.GET("/health", HealthCheck)
		api.GET("/status", SystemStatus)
		api.GET("/estimate", EstimatePublishCost)

		elections := api.Group("/elections")
		{
			elections.POST("", PublishElection)
			elections.GET("/:id", GetElection)
			elections.GET("/:id/stats", GetLiveStats)
			elections.POST("/:id/ballots", SubmitBallot)
			elections.GET("/:id/inclusion/:commitment", VerifyInclusion)
			elections.POST("/:id/confirmations", ConfirmRelease)
			elections.GET("/:id/results", GetResults)
			elections.POST("/:id/withdraw", WithdrawFunds)
		}
	}

	return router, ledger
}
