package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	rewarddomain "github.com/smallbiznis/uplink/internal/reward/domain"
)

func rewardCodeParam(c *gin.Context) (string, error) {
	code := strings.ToLower(strings.TrimSpace(c.Param("code")))
	if code == "" {
		return "", newValidationError("code", "invalid_code", "invalid reward code")
	}
	return code, nil
}

func (s *Server) ListMemberRewards(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	allocations, err := s.rewardSvc.ListByMember(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if allocations == nil {
		allocations = []rewarddomain.Allocation{}
	}

	c.JSON(http.StatusOK, gin.H{"data": allocations})
}

func (s *Server) EvaluateRewardEligibility(c *gin.Context) {
	code, err := rewardCodeParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	evaluation, err := s.rewardSvc.EvaluateRewardEligibility(c.Request.Context(), id, code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": evaluation})
}

func (s *Server) GetRewardInventory(c *gin.Context) {
	code, err := rewardCodeParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inventory, err := s.rewardSvc.Inventory(c.Request.Context(), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inventory})
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) RestockReward(c *gin.Context) {
	code, err := rewardCodeParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inventory, err := s.rewardSvc.Restock(c.Request.Context(), code, req.Quantity)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inventory})
}

func (s *Server) GetRewardAllocation(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	allocation, err := s.rewardSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	violation, err := s.rewardSvc.ViolationDuration(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	expired, err := s.rewardSvc.GraceExpired(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"allocation":                 allocation,
		"violation_duration_seconds": int64(violation.Seconds()),
		"grace_expired":              expired,
	}})
}

func (s *Server) CheckRewardMaintenance(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	allocation, err := s.rewardSvc.CheckMaintenance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": allocation})
}

func (s *Server) MarkRewardDelivered(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	allocation, err := s.rewardSvc.MarkDelivered(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": allocation})
}

func (s *Server) TransferRewardOwnership(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	allocation, err := s.rewardSvc.TransferOwnership(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": allocation})
}

type revokeRewardRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) RevokeReward(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req revokeRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	allocation, err := s.rewardSvc.Revoke(c.Request.Context(), id, actorFrom(c), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": allocation})
}
