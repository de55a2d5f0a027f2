package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ContextOperatorID = "user_id"
	ContextRole       = "role"
)

// OperatorID returns the authenticated operator's id as a string, or
// "anon" for unauthenticated requests.
func OperatorID(c echo.Context) string {
	switch v := c.Get(ContextOperatorID).(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return fmt.Sprintf("%.0f", v)
	case uint64:
		return fmt.Sprintf("%d", v)
	}
	return "anon"
}
