package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
	paymentdomain "github.com/smallbiznis/penwork/internal/payment/domain"
	"github.com/smallbiznis/penwork/internal/storage"
)

type createAssignmentRequest struct {
	Title       string `json:"title" form:"title"`
	Description string `json:"description" form:"description"`
}

type listAssignmentsQuery struct {
	Status    []string `form:"status"`
	ClientID  string   `form:"client_id"`
	WriterID  string   `form:"writer_id"`
	PageToken string   `form:"page_token"`
	PageSize  string   `form:"page_size"`
}

type setPriceRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type assignWriterRequest struct {
	WriterID           string           `json:"writer_id"`
	WriterPrice        *decimal.Decimal `json:"writer_price"`
	ClientPriceIfUnset *decimal.Decimal `json:"client_price_if_unset"`
}

type reassignWriterRequest struct {
	WriterID    string           `json:"writer_id"`
	WriterPrice *decimal.Decimal `json:"writer_price"`
}

func (s *Server) CreateAssignment(c *gin.Context) {
	var req createAssignmentRequest
	var attachments []string

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		limitBody(c)
		form, err := c.MultipartForm()
		if err != nil {
			AbortWithError(c, uploadError("attachments", err))
			return
		}
		req.Title = firstValue(form.Value["title"])
		req.Description = firstValue(form.Value["description"])
		for _, header := range form.File["attachments"] {
			ref, err := s.saveFileHeader(c, storage.CategoryAttachment, header)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			attachments = append(attachments, ref)
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	assignment, err := s.assignmentSvc.Create(c.Request.Context(), assignmentdomain.CreateRequest{
		Title:       req.Title,
		Description: req.Description,
		Attachments: attachments,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": assignment})
}

func (s *Server) ListAssignments(c *gin.Context) {
	var query listAssignmentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := assignmentdomain.ListRequest{PageToken: strings.TrimSpace(query.PageToken)}
	for _, raw := range splitList(query.Status) {
		req.Statuses = append(req.Statuses, assignmentdomain.Status(strings.ToLower(raw)))
	}

	var err error
	if req.ClientID, err = parseOptionalSnowflakeID(query.ClientID); err != nil {
		AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid client_id"))
		return
	}
	if req.WriterID, err = parseOptionalSnowflakeID(query.WriterID); err != nil {
		AbortWithError(c, newValidationError("writer_id", "invalid_writer_id", "invalid writer_id"))
		return
	}
	if raw := strings.TrimSpace(query.PageSize); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
			return
		}
		req.PageSize = size
	}

	resp, err := s.assignmentSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": resp.Assignments,
		"page_info": gin.H{
			"next_page_token": resp.NextPageToken,
			"has_more":        resp.HasMore,
		},
	})
}

func (s *Server) GetAssignment(c *gin.Context) {
	s.assignmentCall(c, s.assignmentSvc.Get)
}

func (s *Server) GetAssignmentHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	history, err := s.assignmentSvc.History(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}

func (s *Server) SetAssignmentPrice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req setPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount == nil {
		AbortWithError(c, newValidationError("amount", "amount_required", "amount is required"))
		return
	}

	assignment, err := s.assignmentSvc.SetClientPrice(c.Request.Context(), id, *req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment})
}

func (s *Server) AcceptAssignmentPrice(c *gin.Context) {
	s.assignmentCall(c, s.assignmentSvc.AcceptPrice)
}

func (s *Server) RejectAssignmentPrice(c *gin.Context) {
	s.assignmentCall(c, s.assignmentSvc.RejectPrice)
}

// SubmitPaymentProof accepts a bank slip. Card payments go through the
// gateway session flow instead.
func (s *Server) SubmitPaymentProof(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	file, err := formFile(c, "file")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer file.body.Close()

	if raw := strings.TrimSpace(c.PostForm("method")); raw != "" {
		method, ok := assignmentdomain.ParsePaymentMethod(raw)
		if !ok || method != assignmentdomain.PaymentMethodBank {
			AbortWithError(c, assignmentdomain.ErrInvalidPaymentMethod)
			return
		}
	}

	assignment, err := s.paymentSvc.SubmitBankProof(c.Request.Context(), id, paymentdomain.ProofUpload{
		Filename: file.filename,
		Body:     file.body,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment})
}

func (s *Server) RejectPaymentProof(c *gin.Context) {
	s.assignmentCall(c, s.paymentSvc.RejectBankProof)
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := s.paymentSvc.ConfirmBankPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res.Assignment, "changed": res.Changed})
}

func (s *Server) AssignWriter(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req assignWriterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	writerID, err := parseSnowflakeID(req.WriterID)
	if err != nil {
		AbortWithError(c, assignmentdomain.ErrInvalidWriter)
		return
	}
	if req.WriterPrice == nil {
		AbortWithError(c, newValidationError("writer_price", "writer_price_required", "writer_price is required"))
		return
	}

	assignment, err := s.assignmentSvc.AssignWriter(c.Request.Context(), id, assignmentdomain.AssignWriterRequest{
		WriterID:           writerID,
		WriterPrice:        *req.WriterPrice,
		ClientPriceIfUnset: req.ClientPriceIfUnset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment})
}

func (s *Server) ReassignWriter(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req reassignWriterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	writerID, err := parseSnowflakeID(req.WriterID)
	if err != nil {
		AbortWithError(c, assignmentdomain.ErrInvalidWriter)
		return
	}

	assignment, err := s.assignmentSvc.ReassignWriter(c.Request.Context(), id, assignmentdomain.ReassignWriterRequest{
		WriterID:    writerID,
		WriterPrice: req.WriterPrice,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment})
}

func (s *Server) UploadDeliverable(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	refs, err := s.saveFormFiles(c, storage.CategoryDeliverable, "files")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	assignment, err := s.assignmentSvc.UploadDeliverable(c.Request.Context(), id, refs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment})
}

func (s *Server) ApproveWork(c *gin.Context) {
	s.assignmentCall(c, s.assignmentSvc.ApproveWork)
}

func (s *Server) RequestRevision(c *gin.Context) {
	s.assignmentCall(c, s.assignmentSvc.RequestRevision)
}

func (s *Server) RequestReport(c *gin.Context) {
	s.assignmentCall(c, s.assignmentSvc.RequestReport)
}

func (s *Server) ForwardReport(c *gin.Context) {
	s.assignmentCall(c, s.assignmentSvc.ForwardReportToWriter)
}

func (s *Server) ReleaseReport(c *gin.Context) {
	s.assignmentCall(c, s.assignmentSvc.ReleaseReportToClient)
}

func (s *Server) SubmitReport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	file, err := formFile(c, "file")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer file.body.Close()

	ref, err := s.store.Save(c.Request.Context(), storage.CategoryReport, file.filename, file.body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	assignment, err := s.assignmentSvc.SubmitReport(c.Request.Context(), id, ref)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment})
}

// assignmentCall runs a body-less operation on the :id assignment.
func (s *Server) assignmentCall(c *gin.Context, op func(context.Context, snowflake.ID) (assignmentdomain.Assignment, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	assignment, err := op(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment})
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
