package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	paymentdomain "github.com/smallbiznis/penwork/internal/payment/domain"
	"go.uber.org/zap"
)

type createSessionRequest struct {
	AssignmentID string `json:"assignment_id"`
	PaysheetID   string `json:"paysheet_id"`
}

func (s *Server) CreateGatewaySession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	assignmentID, err := parseOptionalSnowflakeID(req.AssignmentID)
	if err != nil {
		AbortWithError(c, newValidationError("assignment_id", "invalid_assignment_id", "invalid assignment_id"))
		return
	}

	session, err := s.paymentSvc.CreateSession(c.Request.Context(), paymentdomain.SessionRequest{
		AssignmentID: assignmentID,
		PaysheetID:   strings.TrimSpace(req.PaysheetID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}

// HandleGatewayNotification receives the gateway's form-encoded callback.
// Replays answer 200 so the gateway stops retrying.
func (s *Server) HandleGatewayNotification(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	ctx := actorcontext.WithActor(c.Request.Context(), actorcontext.System())
	res, err := s.paymentSvc.HandleNotification(ctx, s.cfg.Gateway.Provider, c.Request.PostForm)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidSignature) {
			s.log.Warn("gateway notification rejected",
				zap.String("client_ip", c.ClientIP()),
				zap.String("order_id", c.Request.PostForm.Get("order_id")),
			)
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":  res.Order.OrderID,
		"status":    res.Order.Status,
		"outcome":   res.Outcome,
		"applied":   res.Applied,
		"duplicate": res.Duplicate,
	})
}

func (s *Server) GetPaymentOrder(c *gin.Context) {
	order, err := s.paymentSvc.GetOrder(c.Request.Context(), strings.TrimSpace(c.Param("order_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) CancelPaymentOrder(c *gin.Context) {
	order, err := s.paymentSvc.CancelOrder(c.Request.Context(), strings.TrimSpace(c.Param("order_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}
