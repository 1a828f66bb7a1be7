package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func dashboardStats(analytics Analytics, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := actorFrom(c, auth)
		if err != nil {
			return unauthorized(c, err)
		}
		stats, err := analytics.DashboardStats(c.Request().Context(), actor)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, ok(stats))
	}
}
