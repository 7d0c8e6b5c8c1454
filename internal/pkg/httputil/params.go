package httputil

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

// IntQuery reads an integer query parameter and clamps it to [min, max].
// A missing or unparsable value yields the default.
func IntQuery(c *gin.Context, name string, def, min, max int) int {
	value := def
	if raw := c.Query(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			value = parsed
		}
	}

	switch {
	case value < min:
		return min
	case value > max:
		return max
	default:
		return value
	}
}

// RequiredQuery reads a query parameter that the endpoint cannot work
// without
func RequiredQuery(c *gin.Context, name string) (string, error) {
	value := c.Query(name)
	if value == "" {
		return "", fmt.Errorf("missing required query parameter %q", name)
	}
	return value, nil
}
