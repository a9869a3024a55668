package transport

import (
	"errors"
	"net/http"

	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SuccessResponse представляет успешный ответ
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Success bool                `json:"success"`
	Error   string              `json:"error"`
	Details []entity.FieldError `json:"details,omitempty"`
}

func respondOK(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, SuccessResponse{Success: true, Message: message, Data: data})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message})
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var verr *entity.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: verr.Fields})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Errorf("request failed: %v", err)
		c.JSON(status, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrBookingNotFound),
		errors.Is(err, entity.ErrAttemptNotFound),
		errors.Is(err, entity.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrSlotTaken),
		errors.Is(err, entity.ErrNotRetryable),
		errors.Is(err, entity.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, entity.ErrInvalidStatusTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, entity.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, entity.ErrAuthBlocked):
		return http.StatusTooManyRequests
	case errors.Is(err, entity.ErrProviderUnavailable):
		return http.StatusGatewayTimeout
	case errors.Is(err, entity.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
