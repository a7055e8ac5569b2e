package routes

import (
	"log"
	"net/http"
	"os"
	"time"

	"votesecure-backend/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server 是HTTP服务器的封装
type Server struct {
	*http.Server
}

// SetupRouter 设置和配置Gin路由
func SetupRouter() *gin.Engine {
	// 创建Gin路由器
	router := gin.Default()

	// 配置CORS中间件
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"}, // 生产环境中应限制为前端域名
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization",
			"X-Organizer-ID", "X-Voter-ID", "X-Confirmer-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 初始化限流器
	handlers.InitRateLimiters()

	// 定义API路由
	api := router.Group("/api")
	{
		// 全局API限流中间件
		api.Use(handlers.RateLimitMiddleware())

		// 健康检查端点
		api.GET("/health", handlers.HealthCheck)
		api.GET("/status", handlers.SystemStatus)

		// 发布前的资金估算
		api.GET("/estimate", handlers.EstimatePublishCost)

		// 选举生命周期端点
		elections := api.Group("/elections")
		{
			elections.POST("", handlers.PublishElection)
			elections.GET("/:id", handlers.GetElection)
			elections.GET("/:id/stats", handlers.GetLiveStats)
			elections.POST("/:id/withdraw", handlers.WithdrawFunds)

			// 选票准入与纳入证明
			elections.POST("/:id/ballots", handlers.SubmitBallot)
			elections.GET("/:id/inclusion/:commitment", handlers.VerifyInclusion)

			// 门限释放
			elections.POST("/:id/confirmations", handlers.ConfirmRelease)
			elections.GET("/:id/results", handlers.GetResults)

			// 实时更新端点（WebSocket和SSE）
			elections.GET("/:id/ws", handlers.HandleWebSocket)
			elections.GET("/:id/live", handlers.HandleSSE)
		}

		// 管理员相关API
		admin := api.Group("/admin")
		{
			admin.POST("/cache/clean", handlers.CleanupRedisCache)
		}

		// 高并发辅助路由
		highConcurrency := api.Group("/hc")
		{
			// 布隆过滤器预检
			highConcurrency.GET("/election/:id/exists", handlers.CheckElectionExists)

			// 热点缓存查询
			highConcurrency.GET("/election/:id/hot", handlers.GetHotElection)

			// 限流器管理API
			highConcurrency.GET("/ratelimit/stats", handlers.GetRateLimiterStats)
			highConcurrency.POST("/ratelimit/config", handlers.UpdateRateLimiterConfig)
		}
	}

	return router
}

// StartServer 启动HTTP服务器
func StartServer(router *gin.Engine) *Server {
	// 从环境变量获取端口，默认为8090
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8090" // 默认端口
	}

	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	// 在单独的goroutine中启动服务器
	go func() {
		log.Printf("服务器启动在 %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	return srv
}
