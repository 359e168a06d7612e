package metrics

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/internal/repositories/dailymetric"
	"github.com/Ramsey-B/sage/pkg/context"
)

// defaultWindowDays is the summary window when the caller gives no bounds.
const defaultWindowDays = 30

// Register registers daily metric routes
func Register(g *echo.Group) {
	g.GET("/daily", GetDailySummary)
}

// GetDailySummary returns the tenant's daily buckets for a window plus
// totals with derived ratios. Defaults to the trailing 30 days.
func GetDailySummary(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	until := time.Now().UTC().Truncate(24 * time.Hour)
	if param := c.QueryParam("until"); param != "" {
		parsed, err := time.Parse("2006-01-02", param)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "until must be YYYY-MM-DD")
		}
		until = parsed
	}

	since := until.AddDate(0, 0, -(defaultWindowDays - 1))
	if param := c.QueryParam("since"); param != "" {
		parsed, err := time.Parse("2006-01-02", param)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "since must be YYYY-MM-DD")
		}
		since = parsed
	}

	if since.After(until) {
		return httperror.NewHTTPError(http.StatusBadRequest, "since must not be after until")
	}

	ctx, repo, err := ectoinject.GetContext[*dailymetric.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	summary, err := repo.Summary(ctx, tenantID, since, until)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, summary)
}
