package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/remittance"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// StatusOf maps a ledger error onto an HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, remittance.ErrUnknownPayment):
		return http.StatusNotFound
	case errors.Is(err, remittance.ErrDuplicatePaymentID):
		return http.StatusConflict
	case errors.Is(err, remittance.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, remittance.ErrNotInitialized),
		errors.Is(err, remittance.ErrTransferFailed),
		errors.Is(err, remittance.ErrStoreClosed):
		return http.StatusServiceUnavailable
	}

	switch remittance.KindOf(err) {
	case remittance.KindValidation, remittance.KindResource:
		return http.StatusUnprocessableEntity
	case remittance.KindAuthorization:
		return http.StatusForbidden
	case remittance.KindState:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusOf(err)
	detail := errorDetail{Code: remittance.CodeOf(err), Message: err.Error()}

	var ve remittance.ValidationError
	if errors.As(err, &ve) {
		detail.Field = ve.Field
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("api: internal error",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		detail.Message = "internal error"
	}

	c.AbortWithStatusJSON(status, errorBody{Error: detail})
}

func badRequest(c *gin.Context, field, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: errorDetail{
		Code:    remittance.CodeOf(remittance.ErrInvalidInput),
		Message: msg,
		Field:   field,
	}})
}
