package handlers

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"votesecure-backend/cache"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// 全局限流器
var (
	globalLimiter    cache.RateLimiter
	voterLimiter     *cache.VoterRateLimiter
	localLimiter     *rate.Limiter // Redis不可用时的进程内兜底
	rateLimitEnabled bool
	limitStatistics  = make(map[string]int64)
	limitStatsLock   = &sync.RWMutex{}

	rateLimiterConfig = RateLimiterConfig{
		GlobalRate:  100,
		GlobalBurst: 200,
		VoterRate:   10,
		VoterBurst:  20,
	}
)

// RateLimiterConfig 限流器配置结构
type RateLimiterConfig struct {
	Enabled     bool `json:"enabled"`
	GlobalRate  int  `json:"globalRate"`
	GlobalBurst int  `json:"globalBurst"`
	VoterRate   int  `json:"voterRate"`
	VoterBurst  int  `json:"voterBurst"`
}

// RateLimiterStats 限流器统计信息
type RateLimiterStats struct {
	TotalRequests     int64             `json:"totalRequests"`
	AllowedRequests   int64             `json:"allowedRequests"`
	RejectedRequests  int64             `json:"rejectedRequests"`
	VoterRequestStats map[string]int64  `json:"voterRequestStats"`
	RateLimiterConfig RateLimiterConfig `json:"config"`
}

// InitRateLimiters 初始化限流器
func InitRateLimiters() {
	// 从环境变量读取配置
	if os.Getenv("ENABLE_RATE_LIMIT") == "true" {
		rateLimitEnabled = true
	}

	if globalRateStr := os.Getenv("GLOBAL_RATE_LIMIT"); globalRateStr != "" {
		if r, err := strconv.Atoi(globalRateStr); err == nil && r > 0 {
			rateLimiterConfig.GlobalRate = r
			rateLimiterConfig.GlobalBurst = r * 2
		}
	}

	if voterRateStr := os.Getenv("VOTER_RATE_LIMIT"); voterRateStr != "" {
		if r, err := strconv.Atoi(voterRateStr); err == nil && r > 0 {
			rateLimiterConfig.VoterRate = r
			rateLimiterConfig.VoterBurst = r * 2
		}
	}

	rateLimiterConfig.Enabled = rateLimitEnabled

	if rateLimitEnabled {
		resetRateLimiters()
	}
}

// 重置限流器配置
func resetRateLimiters() {
	limitStatsLock.Lock()
	limitStatistics = map[string]int64{
		"total":    0,
		"allowed":  0,
		"rejected": 0,
	}
	limitStatsLock.Unlock()

	redisClient, err := cache.GetRedisClient()
	if err != nil {
		// Redis不可用时退化为单实例令牌桶
		localLimiter = rate.NewLimiter(
			rate.Limit(rateLimiterConfig.GlobalRate),
			rateLimiterConfig.GlobalBurst,
		)
		globalLimiter = nil
		voterLimiter = nil
		log.Printf("无法获取Redis客户端，使用进程内限流器: %v", err)
		return
	}

	// 初始化全局限流器
	globalLimiter = cache.NewTokenBucketRateLimiter(
		redisClient,
		"global_api",
		rateLimiterConfig.GlobalRate,
		rateLimiterConfig.GlobalBurst,
	)

	// 初始化选民级别限流器
	voterLimiter = cache.NewVoterRateLimiter(
		redisClient,
		"voter_api",
		rateLimiterConfig.GlobalRate,
		rateLimiterConfig.GlobalBurst,
		rateLimiterConfig.VoterRate,
		rateLimiterConfig.VoterBurst,
	)
	localLimiter = nil

	log.Printf("限流器已初始化：全局速率=%d/秒，选民速率=%d/秒",
		rateLimiterConfig.GlobalRate, rateLimiterConfig.VoterRate)
}

// RateLimitMiddleware 限流中间件
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 如果限流未启用，直接通过
		if !rateLimitEnabled || (globalLimiter == nil && localLimiter == nil) {
			c.Next()
			return
		}

		limitStatsLock.Lock()
		limitStatistics["total"]++
		limitStatsLock.Unlock()

		// 全局限流检查
		var allowed bool
		var err error
		if globalLimiter != nil {
			allowed, err = globalLimiter.Allow(c)
		} else {
			allowed = localLimiter.Allow()
		}
		if err != nil || !allowed {
			limitStatsLock.Lock()
			limitStatistics["rejected"]++
			limitStatsLock.Unlock()

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "请求频率过高，请稍后再试",
			})
			c.Abort()
			return
		}

		// 如果有选民ID，进行选民级别限流
		voterID := c.GetHeader("X-Voter-ID")
		if voterID != "" && voterLimiter != nil {
			allowed, err := voterLimiter.AllowVoter(c, voterID)
			if err != nil || !allowed {
				limitStatsLock.Lock()
				limitStatistics["rejected"]++
				voterKey := "voter:" + voterID
				limitStatistics[voterKey]++
				limitStatsLock.Unlock()

				c.JSON(http.StatusTooManyRequests, gin.H{
					"error": "您的请求频率过高，请稍后再试",
				})
				c.Abort()
				return
			}
		}

		limitStatsLock.Lock()
		limitStatistics["allowed"]++
		limitStatsLock.Unlock()

		c.Next()
	}
}

// GetRateLimiterStats 获取限流器状态
func GetRateLimiterStats(c *gin.Context) {
	// 复制统计信息以避免竞态条件
	limitStatsLock.RLock()
	stats := RateLimiterStats{
		TotalRequests:     limitStatistics["total"],
		AllowedRequests:   limitStatistics["allowed"],
		RejectedRequests:  limitStatistics["rejected"],
		VoterRequestStats: make(map[string]int64),
		RateLimiterConfig: rateLimiterConfig,
	}

	for key, value := range limitStatistics {
		if strings.HasPrefix(key, "voter:") {
			stats.VoterRequestStats[key] = value
		}
	}
	limitStatsLock.RUnlock()

	c.JSON(http.StatusOK, stats)
}

// UpdateRateLimiterConfig 更新限流器配置
func UpdateRateLimiterConfig(c *gin.Context) {
	var config RateLimiterConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的配置参数"})
		return
	}

	// 验证配置
	if config.GlobalRate <= 0 || config.GlobalBurst <= 0 ||
		config.VoterRate <= 0 || config.VoterBurst <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "速率和突发值必须大于0"})
		return
	}

	rateLimiterConfig = config
	rateLimitEnabled = config.Enabled

	if rateLimitEnabled {
		resetRateLimiters()
	}

	c.JSON(http.StatusOK, gin.H{"message": "限流器配置已更新", "config": rateLimiterConfig})
}
