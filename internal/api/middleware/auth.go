package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
)

const userKey = "user"

// Auth resolves the Authorization header through the session validator and
// stores the user on the context. Rejections are returned as domain errors
// for the HTTP error handler to render.
func Auth(sessions ports.SessionValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)

			user, err := sessions.Validate(c.Request().Context(), header)
			if err != nil {
				return err
			}

			c.Set(userKey, user)
			return next(c)
		}
	}
}

// UserFrom returns the user stored by Auth.
func UserFrom(c echo.Context) (*domain.User, bool) {
	user, ok := c.Get(userKey).(*domain.User)
	return user, ok && user != nil
}
