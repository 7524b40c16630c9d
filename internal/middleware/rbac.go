package middleware

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/YubinShin/creverse/internal/utils"
)

// RequireRole lets the request through only when the role set by JWTProtected
// matches one of roles. Comparison ignores case and surrounding spaces.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		normalized := normalizeRoleValue(role)
		if normalized == "" {
			continue
		}
		if _, dup := allowed[normalized]; !dup {
			names = append(names, normalized)
		}
		allowed[normalized] = struct{}{}
	}
	sort.Strings(names)
	denied := "requires role: " + strings.Join(names, " or ")

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[normalizeRoleValue(c.Locals("user_role"))]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, denied)
		}
		return c.Next()
	}
}

func normalizeRoleValue(value interface{}) string {
	var raw string
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		raw = v
	case fmt.Stringer:
		raw = v.String()
	default:
		raw = fmt.Sprint(v)
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
