package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/internal/repositories/rawrecord"
	"github.com/Ramsey-B/sage/internal/repositories/source"
	"github.com/Ramsey-B/sage/pkg/expressions"
	"github.com/Ramsey-B/sage/pkg/fingerprint"
	"github.com/Ramsey-B/sage/pkg/httpclient"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/payload"
	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// maxPages caps pagination per source so a misbehaving API cannot trap a run
// in an endless walk.
const maxPages = 1000

// defaultBackoff is used when a source answers 429 without a Retry-After.
const defaultBackoff = time.Minute

// Extractor walks every api source, paginates its endpoint, and lands each
// item in the raw store keyed by content fingerprint. Extraction takes no
// advisory lock: fingerprint dedup makes overlapping runs converge on the
// same rows.
type Extractor struct {
	sources source.SourceRepository
	raws    rawrecord.RawRecordRepository
	client  *httpclient.Client
	limiter *redis.RateLimiter
	eval    *expressions.Evaluator
	logger  ectologger.Logger
}

// NewExtractor creates a new extractor
func NewExtractor(
	sources source.SourceRepository,
	raws rawrecord.RawRecordRepository,
	client *httpclient.Client,
	limiter *redis.RateLimiter,
	eval *expressions.Evaluator,
	logger ectologger.Logger,
) *Extractor {
	return &Extractor{
		sources: sources,
		raws:    raws,
		client:  client,
		limiter: limiter,
		eval:    eval,
		logger:  logger,
	}
}

type sourceStats struct {
	pages      int
	inserted   int
	duplicates int
}

// Run extracts every source in scope. A source failing does not abort the
// others; its error is recorded in the result. onProgress, when non nil, is
// called after each source finishes.
func (e *Extractor) Run(ctx context.Context, scope models.RunScope, onProgress func(models.ExtractProgress)) (*models.ExtractResult, error) {
	ctx, span := tracing.StartSpan(ctx, "extract.Extractor.Run")
	defer span.End()

	sources, err := e.sources.ListForExtraction(ctx, scope.TenantIDs, scope.SourceIDs)
	if err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"sources": len(sources),
	}).Info("Starting extract run")

	result := &models.ExtractResult{}

	for i, src := range sources {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		result.Sources++

		stats, err := e.extractSource(ctx, src)
		result.Pages += stats.pages
		result.Inserted += stats.inserted
		result.Duplicates += stats.duplicates

		if err != nil {
			metrics.ExtractSourceErrors.WithLabelValues(src.TenantID).Inc()
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"source_id":   src.ID,
				"source_name": src.Name,
				"tenant_id":   src.TenantID,
			}).Error("Source extraction failed")
			result.Errors = append(result.Errors, models.SourceError{
				SourceID: src.ID,
				Name:     src.Name,
				Error:    err.Error(),
			})
		} else {
			if err := e.sources.TouchRefreshed(ctx, src.ID, time.Now().UTC()); err != nil {
				e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"source_id": src.ID,
				}).Warn("Failed to stamp source refresh time")
			}
		}

		if onProgress != nil {
			onProgress(models.ExtractProgress{
				Current:    src.Name,
				Processed:  i + 1,
				Total:      len(sources),
				Percent:    float64(i+1) / float64(len(sources)) * 100,
				Pages:      result.Pages,
				Inserted:   result.Inserted,
				Duplicates: result.Duplicates,
			})
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"sources":    result.Sources,
		"pages":      result.Pages,
		"inserted":   result.Inserted,
		"duplicates": result.Duplicates,
		"errors":     len(result.Errors),
	}).Info("Extract run complete")

	return result, nil
}

// extractSource paginates one source until it runs dry. Pagination stops on
// an empty page, a page with no new content, or the page cap. Partial stats
// are returned even when the walk fails midway.
func (e *Extractor) extractSource(ctx context.Context, src models.Source) (sourceStats, error) {
	var stats sourceStats

	if src.BaseURL == "" {
		return stats, errors.New("source has no base url")
	}

	headers := map[string]string{"Accept": "application/json"}
	if src.AuthToken != "" {
		headers["Authorization"] = "Bearer " + src.AuthToken
	}

	seen := make(map[string]struct{})
	nextURL := ""

	for page := 1; page <= maxPages; page++ {
		if err := e.waitForBudget(ctx, src); err != nil {
			return stats, err
		}

		apiURL := nextURL
		if apiURL == "" {
			var err error
			apiURL, err = mergePageParam(src.BaseURL, page)
			if err != nil {
				return stats, err
			}
		}

		resp, err := e.client.Get(ctx, apiURL, headers)
		if err != nil {
			return stats, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			backoff := retryAfter(resp.Headers)
			if e.limiter != nil && src.RateLimitPerMinute != nil {
				if err := e.limiter.BlockFor(ctx, src.ID, backoff); err != nil {
					e.logger.WithContext(ctx).WithError(err).Warn("Failed to record rate limit backoff")
				}
			}
			return stats, fmt.Errorf("source rate limited, retry after %s", backoff)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return stats, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, apiURL)
		}

		var doc any
		if err := json.Unmarshal(resp.Body, &doc); err != nil {
			return stats, fmt.Errorf("failed to decode response from %s: %w", apiURL, err)
		}

		stats.pages++
		metrics.ExtractPagesTotal.WithLabelValues(src.TenantID).Inc()

		items, err := e.pageItems(src, doc)
		if err != nil {
			return stats, err
		}
		if len(items) == 0 {
			e.logger.WithContext(ctx).WithFields(map[string]any{
				"source_id": src.ID,
				"page":      page,
			}).Debug("Empty page, pagination complete")
			break
		}

		now := time.Now().UTC()
		records := make([]models.RawRecord, 0, len(items))
		for _, item := range items {
			fp := fingerprint.Generate(item)
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}

			body, err := json.Marshal(item)
			if err != nil {
				continue
			}
			sourceID := src.ID
			records = append(records, models.RawRecord{
				TenantID:    src.TenantID,
				SourceID:    &sourceID,
				Fingerprint: fp,
				Payload:     body,
				ContentType: "json",
				IngestedAt:  now,
				Status:      models.RawStatusOK,
			})
		}

		var inserted, duplicates int
		if len(records) > 0 {
			inserted, duplicates, err = e.raws.InsertBatch(ctx, records)
			if err != nil {
				return stats, err
			}
		}
		// items the page repeated within this run count as duplicates too
		stats.inserted += inserted
		stats.duplicates += duplicates + (len(items) - len(records))

		metrics.ExtractRecordsTotal.WithLabelValues(src.TenantID, "inserted").Add(float64(inserted))
		metrics.ExtractRecordsTotal.WithLabelValues(src.TenantID, "duplicate").Add(float64(duplicates + (len(items) - len(records))))

		if inserted == 0 {
			e.logger.WithContext(ctx).WithFields(map[string]any{
				"source_id": src.ID,
				"page":      page,
			}).Info("Page carried no new content, stopping pagination")
			break
		}

		next, err := e.pageNext(src, doc)
		if err != nil {
			return stats, err
		}
		nextURL = next
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id":  src.ID,
		"pages":      stats.pages,
		"inserted":   stats.inserted,
		"duplicates": stats.duplicates,
	}).Info("Source extraction complete")

	return stats, nil
}

// pageItems flattens one decoded page into record objects, honoring the
// source's records_path override when set.
func (e *Extractor) pageItems(src models.Source, doc any) ([]map[string]any, error) {
	if src.RecordsPath != nil && *src.RecordsPath != "" {
		slice, err := e.eval.EvaluateSlice(*src.RecordsPath, doc)
		if err != nil {
			return nil, fmt.Errorf("records_path failed: %w", err)
		}
		items := make([]map[string]any, 0, len(slice))
		for _, it := range slice {
			if obj, ok := it.(map[string]any); ok {
				items = append(items, obj)
			}
		}
		return items, nil
	}
	return payload.Items(doc), nil
}

// pageNext discovers the next page URL, honoring the source's next_path
// override when set. Empty string falls back to page-number pagination.
func (e *Extractor) pageNext(src models.Source, doc any) (string, error) {
	if src.NextPath != nil && *src.NextPath != "" {
		next, err := e.eval.EvaluateString(*src.NextPath, doc)
		if err != nil {
			return "", fmt.Errorf("next_path failed: %w", err)
		}
		return next, nil
	}
	return payload.NextURL(doc), nil
}

// waitForBudget blocks until the source's rate budget allows another request.
// Sources without a configured limit pass straight through.
func (e *Extractor) waitForBudget(ctx context.Context, src models.Source) error {
	if e.limiter == nil || src.RateLimitPerMinute == nil || *src.RateLimitPerMinute <= 0 {
		return nil
	}

	start := time.Now()
	for {
		res, err := e.limiter.Allow(ctx, src.ID, int64(*src.RateLimitPerMinute), time.Minute)
		if err != nil {
			return err
		}
		if res.Allowed {
			if waited := time.Since(start); waited > 0 {
				metrics.RateLimitWaitTime.WithLabelValues(src.ID).Observe(waited.Seconds())
			}
			return nil
		}

		wait := res.RetryIn
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// mergePageParam attaches or replaces the page query parameter on a base URL.
func mergePageParam(baseURL string, page int) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// retryAfter interprets a 429 Retry-After header, either delta seconds or an
// HTTP date. Missing or malformed values get a fixed backoff.
func retryAfter(headers map[string]string) time.Duration {
	v := strings.TrimSpace(headers["Retry-After"])
	if v == "" {
		return defaultBackoff
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return defaultBackoff
}
