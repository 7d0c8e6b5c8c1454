package http

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/pkg/constants"
	"github.com/username/branchtalk/internal/pkg/httputil"
)

// IdentityMiddleware resolves the caller to a principal. A bearer token maps
// to an account principal; an anonymous visitor identifies itself with a
// browser fingerprint hash. Requests carrying neither are rejected.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := principalFromRequest(c)
		if err != nil {
			httputil.UnauthorizedError(c, err)
			c.Abort()
			return
		}

		c.Set(constants.ContextKeyPrincipal, principal)
		c.Next()
	}
}

func principalFromRequest(c *gin.Context) (entities.Principal, error) {
	auth := c.GetHeader(constants.HeaderAuthorization)
	if auth != "" {
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || strings.TrimSpace(token) == "" {
			return entities.Principal{}, fmt.Errorf("malformed authorization header")
		}
		return entities.NewAccountPrincipal(strings.TrimSpace(token)), nil
	}

	fingerprint := c.GetHeader(constants.HeaderFingerprintHash)
	if fingerprint != "" {
		return entities.NewAnonymousPrincipal(fingerprint), nil
	}

	return entities.Principal{}, fmt.Errorf("missing credentials")
}

// currentPrincipal reads the principal the identity middleware stored
func currentPrincipal(c *gin.Context) entities.Principal {
	value, _ := c.Get(constants.ContextKeyPrincipal)
	principal, _ := value.(entities.Principal)
	return principal
}

// respondError maps domain errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entities.ErrValidation), errors.Is(err, entities.ErrInvalidRole):
		httputil.BadRequestError(c, err)
	case errors.Is(err, entities.ErrNotFound):
		httputil.NotFoundError(c, err)
	case errors.Is(err, entities.ErrQuotaExceeded):
		httputil.TooManyRequestsError(c, err)
	case errors.Is(err, entities.ErrConflict):
		httputil.ErrorResponse(c, 409, err)
	case errors.Is(err, entities.ErrUpstream), errors.Is(err, entities.ErrTransport):
		httputil.ServiceUnavailableError(c, err)
	default:
		httputil.InternalServerError(c, err)
	}
}
