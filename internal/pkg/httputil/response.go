package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope is the uniform response body: success plus data, or an error
// message
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SuccessResponse sends data inside a success envelope
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// ErrorResponse sends an error envelope with the given status
func ErrorResponse(c *gin.Context, status int, err error) {
	c.JSON(status, Envelope{Success: false, Error: err.Error()})
}

func BadRequestError(c *gin.Context, err error)   { ErrorResponse(c, http.StatusBadRequest, err) }
func UnauthorizedError(c *gin.Context, err error) { ErrorResponse(c, http.StatusUnauthorized, err) }
func NotFoundError(c *gin.Context, err error)     { ErrorResponse(c, http.StatusNotFound, err) }
func TooManyRequestsError(c *gin.Context, err error) {
	ErrorResponse(c, http.StatusTooManyRequests, err)
}
func InternalServerError(c *gin.Context, err error) {
	ErrorResponse(c, http.StatusInternalServerError, err)
}
func ServiceUnavailableError(c *gin.Context, err error) {
	ErrorResponse(c, http.StatusServiceUnavailable, err)
}
