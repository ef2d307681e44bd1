package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
)

type registerMemberRequest struct {
	ID                 *snowflake.ID `json:"id,omitempty"`
	ReferrerID         *snowflake.ID `json:"referrer_id,omitempty"`
	SubscriptionStatus string        `json:"subscription_status"`
	Tier               string        `json:"tier,omitempty"`
}

func (s *Server) RegisterMember(c *gin.Context) {
	var req registerMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := networkdomain.SubscriptionStatusActive
	if raw := strings.TrimSpace(req.SubscriptionStatus); raw != "" {
		parsed, err := networkdomain.ParseSubscriptionStatus(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		status = parsed
	}

	member, err := s.networkSvc.RegisterMember(c.Request.Context(), networkdomain.RegisterMemberRequest{
		ID:                 req.ID,
		ReferrerID:         req.ReferrerID,
		SubscriptionStatus: status,
		Tier:               strings.TrimSpace(req.Tier),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": member})
}

func (s *Server) GetMember(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	member, err := s.networkSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": member})
}

func (s *Server) GetUpline(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	upline, err := s.networkSvc.Upline(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": upline})
}

func (s *Server) ListTierHistory(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	history, err := s.networkSvc.TierHistory(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}

type setSubscriptionRequest struct {
	Status string `json:"status"`
}

func (s *Server) SetSubscriptionStatus(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req setSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	status, err := networkdomain.ParseSubscriptionStatus(strings.TrimSpace(req.Status))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.networkSvc.SetSubscriptionStatus(c.Request.Context(), id, status); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) GetQualificationState(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	member, err := s.networkSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	state, err := s.qualificationSvc.State(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	progress, err := s.qualificationSvc.Progress(ctx, id, member.CurrentTier)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"member_id":    member.ID,
		"current_tier": member.CurrentTier,
		"state":        state,
		"progress":     progress,
	}})
}

type evaluateQualificationRequest struct {
	Period string `json:"period"`
}

// EvaluateQualification runs the monthly tier evaluation for one member,
// for example to replay a month the sweep skipped.
func (s *Server) EvaluateQualification(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req evaluateQualificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	period, err := volumedomain.ParseMonth(strings.TrimSpace(req.Period))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	evaluation, err := s.qualificationSvc.EvaluateTierQualification(c.Request.Context(), id, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": evaluation})
}
