package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"votesecure-backend/cache"

	"github.com/gin-gonic/gin"
)

// CleanupCacheInput 定义清理缓存的输入结构
type CleanupCacheInput struct {
	AdminKey string   `json:"admin_key" binding:"required"`
	Patterns []string `json:"patterns" binding:"required"` // 要清理的键模式列表
}

// CleanupRedisCache 清理Redis缓存，仅限运维使用
func CleanupRedisCache(c *gin.Context) {
	var input CleanupCacheInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("无效的输入: %v", err)})
		return
	}

	// 验证管理员密钥
	adminKey := os.Getenv("ADMIN_KEY")
	if adminKey == "" || input.AdminKey != adminKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的管理员密钥"})
		return
	}

	redisClient, err := cache.GetClient()
	if err != nil || redisClient == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Redis客户端未初始化"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	totalDeleted := 0
	cleanupErrors := []string{}

	for _, pattern := range input.Patterns {
		keys, err := redisClient.Keys(ctx, pattern).Result()
		if err != nil {
			cleanupErrors = append(cleanupErrors, fmt.Sprintf("查找键失败 (模式: %s): %v", pattern, err))
			continue
		}

		if len(keys) > 0 {
			deletedCount, err := redisClient.Del(ctx, keys...).Result()
			if err != nil {
				cleanupErrors = append(cleanupErrors, fmt.Sprintf("删除键失败 (模式: %s): %v", pattern, err))
			} else {
				totalDeleted += int(deletedCount)
			}
		}
	}

	log.Printf("缓存清理完成，总共删除了 %d 个键", totalDeleted)

	result := gin.H{
		"success":       len(cleanupErrors) == 0,
		"total_deleted": totalDeleted,
	}
	if len(cleanupErrors) > 0 {
		result["errors"] = cleanupErrors
	}

	c.JSON(http.StatusOK, result)
}

// CheckElectionExists 布隆过滤器预检，拦截对不存在选举的穿透查询
func CheckElectionExists(c *gin.Context) {
	eventID := c.Param("id")

	bloomFilter := cache.InitEventBloomFilter()
	if bloomFilter == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "布隆过滤器未初始化"})
		return
	}

	exists, err := bloomFilter.Contains(c, "event:"+eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检查失败: " + err.Error()})
		return
	}

	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "选举不存在"})
		return
	}

	// 可能存在，调用方应继续查询权威数据
	c.JSON(http.StatusOK, gin.H{"message": "选举可能存在"})
}

// GetHotElection 热点选举查询，经过缓存与防击穿保护
func GetHotElection(c *gin.Context) {
	eventID := c.Param("id")
	cacheKey := "event:" + eventID

	redisClient, err := cache.GetRedisClient()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Redis未初始化"})
		return
	}

	bloomFilter := cache.InitEventBloomFilter()
	lockService := cache.GetLockService()

	hotCache := cache.NewHotCache(redisClient, lockService, bloomFilter)

	data, err := hotCache.GetWithCache(c, cacheKey, time.Hour, func() (interface{}, error) {
		election, status, err := controller.GetElection(c.Request.Context(), eventID)
		if err != nil {
			return nil, err
		}
		return gin.H{"election": election, "status": status}, nil
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if data == nil {
		// 空值缓存命中
		c.JSON(http.StatusNotFound, gin.H{"error": "选举不存在"})
		return
	}

	c.JSON(http.StatusOK, data)
}
