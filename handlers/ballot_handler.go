package handlers

import (
	"log"
	"net/http"

	"votesecure-backend/lifecycle"
	"votesecure-backend/models"

	"github.com/gin-gonic/gin"
)

// SubmitBallotInput defines the expected input structure for submitting a ballot
type SubmitBallotInput struct {
	Payload string                 `json:"payload"`
	Answers models.Answers         `json:"answers" binding:"required"`
	Groups  models.GroupAttributes `json:"groups,omitempty"`
}

// SubmitBallot 提交一张选票，成功时返回回执
// 选民身份取自X-Voter-ID请求头，重投直接再次提交即可
func SubmitBallot(c *gin.Context) {
	eventID := c.Param("id")

	voterID := c.GetHeader("X-Voter-ID")
	if voterID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Voter-ID header"})
		return
	}

	var input SubmitBallotInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := controller.SubmitBallot(c.Request.Context(), &lifecycle.BallotSubmission{
		EventID: eventID,
		Payload: input.Payload,
		Answers: input.Answers,
		Groups:  input.Groups,
	}, voterID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	log.Printf("选票已准入: %s, sequence=%d", eventID, receipt.Sequence)
	c.JSON(http.StatusCreated, receipt)
}

// VerifyInclusion 按承诺值查询纳入证明
// 未纳入不是错误，返回included=false
func VerifyInclusion(c *gin.Context) {
	eventID := c.Param("id")
	digest := c.Param("commitment")

	result, err := controller.VerifyInclusion(c.Request.Context(), eventID, digest)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
