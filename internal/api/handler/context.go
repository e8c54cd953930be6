package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/99minutos/authstream/internal/api/middleware"
	"github.com/99minutos/authstream/internal/core/domain"
)

// ctxUser returns the user stored by the Auth middleware. A missing user
// means the route was mounted without the middleware; it is rejected the
// same way as a request without a token.
func ctxUser(c echo.Context) (*domain.User, error) {
	user, ok := middleware.UserFrom(c)
	if !ok {
		return nil, domain.ErrMissingToken
	}
	return user, nil
}
