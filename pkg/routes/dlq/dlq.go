// Package dlq exposes the dead letter queue as an operator surface: inspect
// stuck jobs, re-enqueue them, or drop them.
package dlq

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/redis"
)

// Register registers dead letter queue routes
func Register(g *echo.Group) {
	g.GET("", ListEntries)
	g.GET("/stats", Stats)
	g.GET("/:id", GetEntry)
	g.POST("/:id/retry", RetryEntry)
	g.DELETE("/:id", DeleteEntry)
}

// ListResponse is the response for listing DLQ entries
type ListResponse struct {
	Entries []redis.DLQEntry `json:"entries"`
	Count   int              `json:"count"`
	Total   int64            `json:"total"`
}

// ListEntries returns dead letter queue entries, newest first
func ListEntries(c echo.Context) error {
	ctx := c.Request().Context()

	count := int64(100)
	if countStr := c.QueryParam("count"); countStr != "" {
		if parsed, err := strconv.ParseInt(countStr, 10, 64); err == nil && parsed > 0 {
			count = parsed
		}
	}

	ctx, dlq, err := ectoinject.GetContext[*redis.DeadLetterQueue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entries, err := dlq.List(ctx, count)
	if err != nil {
		return err
	}

	total, _ := dlq.Count(ctx)

	return c.JSON(http.StatusOK, ListResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   total,
	})
}

// GetEntry returns a specific DLQ entry
func GetEntry(c echo.Context) error {
	ctx := c.Request().Context()
	messageID := c.Param("id")

	ctx, dlq, err := ectoinject.GetContext[*redis.DeadLetterQueue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entry, err := dlq.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if entry == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "DLQ entry %s not found", messageID)
	}

	return c.JSON(http.StatusOK, entry)
}

// RetryEntry re-enqueues a DLQ entry on the job queue
func RetryEntry(c echo.Context) error {
	ctx := c.Request().Context()
	messageID := c.Param("id")

	ctx, dlq, err := ectoinject.GetContext[*redis.DeadLetterQueue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, streams, err := ectoinject.GetContext[*redis.Streams](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, cfg, err := ectoinject.GetContext[*config.Config](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := dlq.Retry(ctx, messageID, streams, cfg.QueueStream); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "retried",
		"message": "Job re-enqueued successfully",
	})
}

// DeleteEntry removes a DLQ entry
func DeleteEntry(c echo.Context) error {
	ctx := c.Request().Context()
	messageID := c.Param("id")

	ctx, dlq, err := ectoinject.GetContext[*redis.DeadLetterQueue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := dlq.Delete(ctx, messageID); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// Stats returns DLQ statistics
func Stats(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, dlq, err := ectoinject.GetContext[*redis.DeadLetterQueue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	count, err := dlq.Count(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]int64{
		"total_entries": count,
	})
}
