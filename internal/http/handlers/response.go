package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxkey/voicegate-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, err error) {
	aerr := apierr.From(err)
	if aerr.RetryAfter > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", int(aerr.RetryAfter.Seconds())+1))
	}
	c.JSON(aerr.Status, ErrorEnvelope{
		Error: APIError{
			Message: aerr.Error(),
			Code:    aerr.Code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
