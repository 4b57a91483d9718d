package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	conversationdomain "github.com/smallbiznis/penwork/internal/conversation/domain"
)

type sendMessageRequest struct {
	AssignmentID string `json:"assignment_id"`
	ClientID     string `json:"client_id"`
	Body         string `json:"body"`
}

func (s *Server) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	assignmentID, err := parseOptionalSnowflakeID(req.AssignmentID)
	if err != nil {
		AbortWithError(c, newValidationError("assignment_id", "invalid_assignment_id", "invalid assignment_id"))
		return
	}
	clientID, err := parseOptionalSnowflakeID(req.ClientID)
	if err != nil {
		AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid client_id"))
		return
	}

	msg, err := s.conversationSvc.SendMessage(c.Request.Context(), conversationdomain.SendRequest{
		AssignmentID: assignmentID,
		ClientID:     clientID,
		Body:         req.Body,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": msg})
}

func (s *Server) ListMessages(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req := conversationdomain.ListMessagesRequest{
		ConversationID: id,
		PageToken:      strings.TrimSpace(c.Query("page_token")),
	}
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
			return
		}
		req.PageSize = size
	}

	resp, err := s.conversationSvc.ListMessages(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": resp.Messages,
		"page_info": gin.H{
			"next_page_token": resp.NextPageToken,
			"has_more":        resp.HasMore,
		},
	})
}

func (s *Server) MarkConversationRead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	count, err := s.conversationSvc.MarkRead(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": count})
}

func (s *Server) UnreadCounts(c *gin.Context) {
	summary, err := s.conversationSvc.UnreadCounts(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
