package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"
	paysheetdomain "github.com/smallbiznis/penwork/internal/paysheet/domain"
)

func (s *Server) ListPaysheets(c *gin.Context) {
	var status *paysheetdomain.PaysheetStatus
	if raw := strings.ToLower(strings.TrimSpace(c.Query("status"))); raw != "" {
		parsed, ok := paysheetdomain.ParseStatus(raw)
		if !ok {
			AbortWithError(c, paysheetdomain.ErrInvalidStatus)
			return
		}
		status = &parsed
	}

	sheets, err := s.paysheetSvc.ListPaysheets(c.Request.Context(), status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sheets})
}

func (s *Server) GetWriterPaysheets(c *gin.Context) {
	writerID, ok := pathID(c, "writer_id")
	if !ok {
		return
	}

	sheet, err := s.paysheetSvc.GetWriterPaysheets(c.Request.Context(), writerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sheet})
}

func (s *Server) DownloadPaysheetStatement(c *gin.Context) {
	paysheetID := strings.TrimSpace(c.Param("paysheet_id"))

	doc, err := s.paysheetSvc.Statement(c.Request.Context(), paysheetID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if closer, ok := doc.(io.Closer); ok {
		defer closer.Close()
	}

	filename := "statement-" + slug.Make(paysheetID) + ".pdf"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, nil)
}

// PayPaysheet settles a paysheet with a bank transfer receipt.
func (s *Server) PayPaysheet(c *gin.Context) {
	file, err := formFile(c, "file")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer file.body.Close()

	period, err := s.paysheetSvc.PayPeriodWithProof(c.Request.Context(), strings.TrimSpace(c.Param("paysheet_id")), paysheetdomain.Upload{
		Filename: file.filename,
		Body:     file.body,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": period})
}

func (s *Server) PayAssignmentPayout(c *gin.Context) {
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

	period, err := s.paysheetSvc.PayAssignment(c.Request.Context(), id, paysheetdomain.Upload{
		Filename: file.filename,
		Body:     file.body,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": period})
}

func (s *Server) CancelPaysheetPayout(c *gin.Context) {
	period, err := s.paysheetSvc.CancelPendingPayout(c.Request.Context(), strings.TrimSpace(c.Param("paysheet_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": period})
}
