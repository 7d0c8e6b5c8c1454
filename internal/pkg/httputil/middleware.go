package httputil

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/username/branchtalk/internal/pkg/constants"
)

// CORSConfig lists what cross-origin requests are allowed to do
type CORSConfig struct {
	Origins []string
	Methods []string
	Headers []string
}

// DefaultCORS allows any origin. The fingerprint header has to be listed or
// browsers strip it from anonymous clients.
var DefaultCORS = CORSConfig{
	Origins: []string{"*"},
	Methods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	Headers: []string{constants.HeaderContentType, constants.HeaderAuthorization, constants.HeaderFingerprintHash},
}

// CORS answers preflight requests and stamps the allow headers on everything
// else
func CORS(cfg CORSConfig) gin.HandlerFunc {
	origins := strings.Join(cfg.Origins, ", ")
	methods := strings.Join(cfg.Methods, ", ")
	headers := strings.Join(cfg.Headers, ", ")

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origins)
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
