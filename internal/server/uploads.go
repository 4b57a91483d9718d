package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxUploadBytes = 32 << 20
	maxUploadFiles = 20
)

type upload struct {
	filename string
	body     io.ReadCloser
}

func limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
}

// formFile opens the single file sent under field.
func formFile(c *gin.Context, field string) (upload, error) {
	limitBody(c)
	header, err := c.FormFile(field)
	if err != nil {
		return upload{}, uploadError(field, err)
	}
	body, err := header.Open()
	if err != nil {
		return upload{}, err
	}
	return upload{filename: header.Filename, body: body}, nil
}

// formFiles lists every file sent under field.
func formFiles(c *gin.Context, field string) ([]*multipart.FileHeader, error) {
	limitBody(c)
	form, err := c.MultipartForm()
	if err != nil {
		return nil, uploadError(field, err)
	}
	files := form.File[field]
	if len(files) == 0 {
		return nil, newValidationError(field, "files_required", "at least one file is required")
	}
	if len(files) > maxUploadFiles {
		return nil, newValidationError(field, "too_many_files", "too many files")
	}
	return files, nil
}

// saveFormFiles stores each uploaded file and returns the references in order.
func (s *Server) saveFormFiles(c *gin.Context, category, field string) ([]string, error) {
	files, err := formFiles(c, field)
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(files))
	for _, header := range files {
		ref, err := s.saveFileHeader(c, category, header)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Server) saveFileHeader(c *gin.Context, category string, header *multipart.FileHeader) (string, error) {
	body, err := header.Open()
	if err != nil {
		return "", err
	}
	defer body.Close()

	ref, err := s.store.Save(c.Request.Context(), category, header.Filename, body)
	if err != nil {
		s.log.Warn("file upload failed",
			zap.String("category", category),
			zap.String("filename", header.Filename),
			zap.Error(err),
		)
		return "", err
	}
	return ref, nil
}

func uploadError(field string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return newValidationError(field, "file_too_large", "file exceeds the upload limit")
	}
	return newValidationError(field, field+"_required", "file is required")
}
