package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/orchestrator"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/services"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/storage"
)

const (
	codeValidation = "validation_error"
	codeAuth       = "unauthorized"
	codeNotFound   = "not_found"
	codeConflict   = "version_conflict"
	codeUpstream   = "upstream_error"
	codeTooLarge   = "payload_too_large"
	codeInternal   = "internal_error"
)

type apiError struct {
	status  int
	code    string
	message string
}

func classify(err error) apiError {
	var (
		validation *domain.ValidationError
		auth       *domain.AuthFailure
		generation *domain.GenerationFailure
		tooLarge   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &validation):
		return apiError{http.StatusBadRequest, codeValidation, validation.Error()}
	case errors.As(err, &auth):
		return apiError{http.StatusUnauthorized, codeAuth, auth.Message}
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, orchestrator.ErrClosed):
		return apiError{http.StatusUnauthorized, codeAuth, "authentication required"}
	case errors.Is(err, domain.ErrNotFound):
		return apiError{http.StatusNotFound, codeNotFound, err.Error()}
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrStaleGeneration):
		return apiError{http.StatusConflict, codeConflict, err.Error()}
	case errors.As(err, &generation):
		return apiError{http.StatusBadGateway, codeUpstream, generation.Error()}
	case errors.Is(err, storage.ErrUploadTooLarge), errors.As(err, &tooLarge):
		return apiError{http.StatusRequestEntityTooLarge, codeTooLarge, "document exceeds maximum size"}
	case errors.Is(err, services.ErrUnsupportedDocument):
		return apiError{http.StatusBadRequest, codeValidation, err.Error()}
	default:
		return apiError{http.StatusInternalServerError, codeInternal, "internal error"}
	}
}

func respondError(c *gin.Context, err error) {
	e := classify(err)
	if e.status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	respondMessage(c, e.status, e.code, e.message)
}

func respondMessage(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"message": message, "code": code}})
}
