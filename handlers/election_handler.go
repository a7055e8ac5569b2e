package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"votesecure-backend/lifecycle"
	"votesecure-backend/models"
	"votesecure-backend/mq"
	"votesecure-backend/release"
	"votesecure-backend/store"

	"github.com/gin-gonic/gin"
)

// 全局依赖，由main在启动时注入
var (
	controller  *lifecycle.Controller
	coordinator *release.Coordinator
	mqAdapter   *mq.MQAdapter
)

// InitHandler 初始化处理程序，注入控制器与MQ适配器引用
func InitHandler(ctrl *lifecycle.Controller, coord *release.Coordinator, adapter *mq.MQAdapter) {
	controller = ctrl
	coordinator = coord
	mqAdapter = adapter
	log.Println("处理程序依赖已注入")
}

// statusForError 业务错误到HTTP状态码的统一映射
func statusForError(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrElectionNotFound),
		errors.Is(err, release.ErrResultsNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrVotingNotOpen),
		errors.Is(err, lifecycle.ErrVotingClosed),
		errors.Is(err, lifecycle.ErrNotOrganizer),
		errors.Is(err, lifecycle.ErrElectionActive),
		errors.Is(err, release.ErrTooEarly):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrUpdateLimitExceeded),
		errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrDuplicateSequence):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError 按统一映射写出错误响应
func abortWithError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Printf("请求处理失败: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// PublishElectionInput defines the expected input structure for publishing an election
type PublishElectionInput struct {
	Title           string                   `json:"title" binding:"required"`
	Description     string                   `json:"description,omitempty"`
	Questions       []models.Question        `json:"questions" binding:"required,min=1,dive"`
	Schedule        models.Schedule          `json:"schedule" binding:"required"`
	Eligibility     models.EligibilityPolicy `json:"eligibility,omitempty"`
	CuratedVoters   []string                 `json:"curated_voters,omitempty"`
	Reporting       models.ReportingPolicy   `json:"reporting,omitempty"`
	AllowedUpdates  int                      `json:"allowed_updates,omitempty"`
	EstimatedVoters int                      `json:"estimated_voters,omitempty"`
	Release         models.ReleasePolicy     `json:"release,omitempty"`
}

// PublishElection 发布一场新选举
// 组织者身份取自X-Organizer-ID请求头
func PublishElection(c *gin.Context) {
	var input PublishElectionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	organizerID := c.GetHeader("X-Organizer-ID")
	if organizerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Organizer-ID header"})
		return
	}

	for _, q := range input.Questions {
		if len(q.Options) < 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "each question must have at least two options"})
			return
		}
	}

	cfg := models.Election{
		Title:           input.Title,
		Description:     input.Description,
		Questions:       input.Questions,
		Schedule:        input.Schedule,
		Eligibility:     input.Eligibility,
		CuratedVoters:   input.CuratedVoters,
		Reporting:       input.Reporting,
		AllowedUpdates:  input.AllowedUpdates,
		EstimatedVoters: input.EstimatedVoters,
		Release:         input.Release,
	}

	result, err := controller.Publish(c.Request.Context(), &cfg, organizerID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	log.Printf("收到发布请求并完成: %s (组织者: %s)", result.Election.EventID, organizerID)
	c.JSON(http.StatusCreated, result)
}

// GetElection 查询选举配置与推导状态
func GetElection(c *gin.Context) {
	eventID := c.Param("id")

	election, status, err := controller.GetElection(c.Request.Context(), eventID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"election": election,
		"status":   status,
	})
}

// GetLiveStats 查询运行期实时统计
func GetLiveStats(c *gin.Context) {
	eventID := c.Param("id")

	stats, err := controller.LiveStatistics(c.Request.Context(), eventID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// WithdrawFunds 选举结束后提取剩余资金
func WithdrawFunds(c *gin.Context) {
	eventID := c.Param("id")

	organizerID := c.GetHeader("X-Organizer-ID")
	if organizerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Organizer-ID header"})
		return
	}

	reclaimed, err := controller.WithdrawRemaining(c.Request.Context(), eventID, organizerID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id":  eventID,
		"reclaimed": reclaimed,
	})
}

// EstimatePublishCost 纯估算端点，不落账不预留
// 组织者在发布前用它预览所需资金
func EstimatePublishCost(c *gin.Context) {
	voters, err := strconv.Atoi(c.DefaultQuery("voters", "0"))
	if err != nil || voters < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voters parameter"})
		return
	}
	updates, err := strconv.Atoi(c.DefaultQuery("updates", "1"))
	if err != nil || updates < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid updates parameter"})
		return
	}

	amount := lifecycle.EstimateCost(voters, updates)
	c.JSON(http.StatusOK, gin.H{
		"estimated_voters": voters,
		"allowed_updates":  updates,
		"fund_amount":      amount,
		"fund_units":       amount / lifecycle.ShannonsPerUnit,
	})
}
