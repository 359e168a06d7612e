package httpclient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseResponse decodes the response body based on content type. Feed
// endpoints speak JSON; anything that is not JSON is surfaced as an error so
// the source gets flagged instead of raw rows filling with garbage. Servers
// that mislabel JSON as text are given a second chance.
func ParseResponse(resp *Response) error {
	if len(resp.Body) == 0 {
		return fmt.Errorf("empty response body")
	}

	contentType := strings.ToLower(resp.ContentType)

	switch {
	case strings.Contains(contentType, "json"):
		return parseJSON(resp)
	case strings.Contains(contentType, "text/"):
		if err := parseJSON(resp); err != nil {
			return fmt.Errorf("non-JSON response (content type %q)", resp.ContentType)
		}
		return nil
	default:
		return fmt.Errorf("unsupported content type %q", resp.ContentType)
	}
}

func parseJSON(resp *Response) error {
	var result any
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	resp.BodyJSON = result
	return nil
}

// IsSuccessStatus returns true if the status code indicates success
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// IsRateLimitStatus returns true if the status code indicates rate limiting
func IsRateLimitStatus(statusCode int) bool {
	return statusCode == 429
}
