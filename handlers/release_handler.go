package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConfirmRelease 记录一次释放确认
// 确认者身份取自X-Confirmer-ID请求头，重复确认幂等
func ConfirmRelease(c *gin.Context) {
	eventID := c.Param("id")

	confirmerID := c.GetHeader("X-Confirmer-ID")
	if confirmerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Confirmer-ID header"})
		return
	}

	outcome, err := coordinator.ConfirmRelease(c.Request.Context(), eventID, confirmerID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if outcome.Released {
		log.Printf("结果已释放: %s (%d/%d确认)", eventID, outcome.Confirmations, outcome.Required)
	}
	c.JSON(http.StatusOK, outcome)
}

// GetResults 查询结果：已释放返回计票结果，未释放返回确认进度
func GetResults(c *gin.Context) {
	eventID := c.Param("id")

	outcome, err := coordinator.Results(c.Request.Context(), eventID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}
