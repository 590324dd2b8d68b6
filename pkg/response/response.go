package response

import (
	"errors"
	"net/http"

	"creditledger/internal/apperr"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error writes the envelope with the HTTP status equal to code, so payment
// providers that only look at the status retry on 5xx.
func Error(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, CodeUnauthorized, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// FromError maps an error kind to its status. Storage failures and
// unclassified errors are reported as 500 without their detail, which is
// attached to the context for the request logger instead.
func FromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrStorage):
		_ = c.Error(err)
		ServerError(c, "internal error")
	case errors.Is(err, apperr.ErrValidation):
		ParamError(c, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		Error(c, CodeNotFound, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		Error(c, CodeConflict, err.Error())
	default:
		_ = c.Error(err)
		ServerError(c, "internal error")
	}
}
