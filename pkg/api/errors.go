package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

// errorResponse is the body of every error reply.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an error code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case deployment.ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case deployment.ErrCodeNotFound, deployment.ErrCodeConflictNotDestroyable:
		return http.StatusNotFound
	case deployment.ErrCodeConflictInProgress, deployment.ErrCodeConflictDeployed,
		deployment.ErrCodeAlreadyExists, deployment.ErrCodeInvalidTransition:
		return http.StatusConflict
	case deployment.ErrCodeRemoteUnavailable, deployment.ErrCodeRemoteConflict:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) errorResponse {
	var e *deployment.Error
	if errors.As(err, &e) {
		return errorResponse{Code: e.Code, Message: e.Message}
	}
	return errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"}
}

func writeError(c *gin.Context, err error) {
	body := errorBody(err)
	status := statusFor(body.Code)
	if status >= http.StatusInternalServerError {
		telemetry.FromContext(c.Request.Context()).WithError(err).Error("Request failed")
	}
	c.JSON(status, body)
}

// writeBindError reports a body that could not be decoded.
func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, errorResponse{
		Code:    deployment.ErrCodeValidation,
		Message: "invalid request body: " + err.Error(),
	})
}
