package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/supportops/mailtriage/internal/domain"
	"github.com/supportops/mailtriage/pkg/apperrors"
)

// RequireRole ensures the operator holds one of the allowed roles. With
// no arguments any authenticated operator passes.
func RequireRole(allowed ...domain.OperatorRole) fiber.Handler {
	allowedSet := make(map[domain.OperatorRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		operator, ok := OperatorFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[operator.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireAdmin restricts a route to admin operators.
func RequireAdmin() fiber.Handler {
	return RequireRole(domain.OperatorRoleAdmin)
}
