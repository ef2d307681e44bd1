package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	commissiondomain "github.com/smallbiznis/uplink/internal/commission/domain"
)

func (s *Server) GetCommission(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	commission, err := s.commissionSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": commission})
}

func (s *Server) ListMemberCommissions(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	commissions, err := s.commissionSvc.ListByMember(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if commissions == nil {
		commissions = []commissiondomain.Commission{}
	}

	c.JSON(http.StatusOK, gin.H{"data": commissions})
}

func (s *Server) GetMemberBalance(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.commissionSvc.Balance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}

type adjustCommissionRequest struct {
	Amount decimal.NullDecimal `json:"amount"`
	Reason string              `json:"reason"`
}

func (s *Server) AdjustCommission(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req adjustCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !req.Amount.Valid {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount is required"))
		return
	}

	commission, err := s.commissionSvc.Adjust(c.Request.Context(), commissiondomain.AdjustRequest{
		CommissionID: id,
		NewAmount:    req.Amount.Decimal,
		Reason:       strings.TrimSpace(req.Reason),
		Actor:        actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": commission})
}

func (s *Server) ApproveCommission(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	commission, err := s.commissionSvc.Approve(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": commission})
}

type rejectCommissionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) RejectCommission(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req rejectCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	commission, err := s.commissionSvc.Reject(c.Request.Context(), id, actorFrom(c), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": commission})
}
