package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds test configuration
type Config struct {
	SageURL      string
	KafkaBrokers []string
	IntakeTopic  string // push ingestion into the raw store
	EventsTopic  string // pipeline lifecycle events out
	TestTenantID string
}

// DefaultConfig returns default test configuration
func DefaultConfig() Config {
	return Config{
		SageURL:      getEnv("SAGE_URL", "http://localhost:3004"),
		KafkaBrokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
		IntakeTopic:  getEnv("KAFKA_INTAKE_TOPIC", "sage-intake"),
		EventsTopic:  getEnv("KAFKA_EVENTS_TOPIC", "sage-events"),
		TestTenantID: getEnv("TEST_TENANT_ID", "test-tenant-e2e"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// HTTPClient wraps http.Client with helper methods
type HTTPClient struct {
	client   *http.Client
	baseURL  string
	tenantID string
}

// NewHTTPClient creates a new HTTP client for the service
func NewHTTPClient(baseURL, tenantID string) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:  baseURL,
		tenantID: tenantID,
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(path string) (*http.Response, error) {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// Put performs a PUT request with JSON body
func (c *HTTPClient) Put(path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("PUT", c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// Delete performs a DELETE request
func (c *HTTPClient) Delete(path string) (*http.Response, error) {
	req, err := http.NewRequest("DELETE", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.client.Do(req)
}

func (c *HTTPClient) addHeaders(req *http.Request) {
	// Test auth headers - used when AUTH_ENABLED=false
	req.Header.Set("X-Tenant-ID", c.tenantID)
	req.Header.Set("X-User-ID", "e2e-test-user")
}

// ParseResponse parses a JSON response into the given type
func ParseResponse[T any](resp *http.Response) (T, error) {
	var result T
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if err := json.Unmarshal(body, &result); err != nil {
		return result, fmt.Errorf("failed to parse response: %w (body: %s)", err, string(body))
	}
	return result, nil
}

// KafkaHelper provides Kafka testing utilities
type KafkaHelper struct {
	brokers []string
}

// NewKafkaHelper creates a new Kafka helper
func NewKafkaHelper(brokers []string) *KafkaHelper {
	return &KafkaHelper{brokers: brokers}
}

// ProduceMessage sends a message to a topic
func (k *KafkaHelper) ProduceMessage(ctx context.Context, topic string, key string, value []byte, headers map[string]string) error {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(k.brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	defer writer.Close()

	kafkaHeaders := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	return writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: kafkaHeaders,
	})
}

// ConsumeMessagesAfter consumes messages from a topic, filtering for messages after a specific time
func (k *KafkaHelper) ConsumeMessagesAfter(ctx context.Context, topic, groupID string, timeout time.Duration, maxMessages int, afterTime time.Time) ([]kafka.Message, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	messages := make([]kafka.Message, 0, maxMessages)
	deadline := time.Now().Add(timeout)

	for len(messages) < maxMessages && time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
		msg, err := reader.FetchMessage(ctx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				continue // Timeout, try again
			}
			return messages, err
		}

		// Commit all messages to advance offset, but only keep recent ones
		reader.CommitMessages(context.Background(), msg)

		// Filter: only keep messages after the specified time
		if !afterTime.IsZero() && msg.Time.Before(afterTime) {
			continue // Skip old messages
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

// WaitForService waits for the service to be healthy
// Returns true if service is available, false otherwise
func WaitForService(t *testing.T, url string, timeout time.Duration) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/api/v1/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return true
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}

	return false
}

// RequireService skips the test if the service is not available
// Waits up to 10 seconds for service to become ready (handles 503 during startup)
func RequireService(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/api/v1/health")
		if err != nil {
			// Service not running at all
			t.Skipf("Skipping: service at %s is not available. Start the stack with 'docker compose up'", url)
			return
		}

		status := resp.StatusCode
		resp.Body.Close()

		if status == http.StatusOK {
			return // Service is ready
		}

		if status == http.StatusServiceUnavailable {
			// Service is starting up, wait and retry
			t.Logf("Service at %s is starting (503), waiting...", url)
			time.Sleep(1 * time.Second)
			continue
		}

		// Other error status
		t.Skipf("Skipping: service at %s returned status %d", url, status)
		return
	}

	t.Skipf("Skipping: service at %s did not become ready within 10s", url)
}

// IntakeMessage is the push ingestion record shape the intake consumer reads
type IntakeMessage struct {
	TenantID  string          `json:"tenant_id"`
	SourceID  *string         `json:"source_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	RecordTS  *string         `json:"record_ts,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// CreateIntakeMessage wraps a payload object as an intake record
func CreateIntakeMessage(tenantID string, payload map[string]any) IntakeMessage {
	body, _ := json.Marshal(payload)
	return IntakeMessage{
		TenantID:  tenantID,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	}
}

// runView is the slice of a pipeline run the tests poll on
type runView struct {
	ID     string          `json:"id"`
	Job    string          `json:"job"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// triggerRun starts a run for the named job and returns its id
func triggerRun(t *testing.T, client *HTTPClient, job string, body map[string]any) string {
	t.Helper()

	if body == nil {
		body = map[string]any{}
	}
	resp, err := client.Post("/api/v1/runs/"+job, body)
	if err != nil {
		t.Fatalf("Failed to trigger %s run: %v", job, err)
	}
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("Trigger %s run returned status %d: %s", job, resp.StatusCode, string(raw))
	}

	triggered, err := ParseResponse[map[string]string](resp)
	if err != nil {
		t.Fatalf("Failed to parse trigger response: %v", err)
	}
	runID := triggered["run_id"]
	if runID == "" {
		t.Fatalf("Trigger %s run returned no run_id", job)
	}
	return runID
}

// waitForRun polls a run until it reaches a terminal status
func waitForRun(t *testing.T, client *HTTPClient, runID string, timeout time.Duration) runView {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var last runView

	for time.Now().Before(deadline) {
		resp, err := client.Get("/api/v1/runs/" + runID)
		if err != nil {
			t.Fatalf("Failed to poll run %s: %v", runID, err)
		}
		run, err := ParseResponse[runView](resp)
		if err != nil {
			t.Fatalf("Failed to parse run %s: %v", runID, err)
		}
		last = run

		switch run.Status {
		case "succeeded", "failed", "skipped":
			return run
		}

		time.Sleep(500 * time.Millisecond)
	}

	t.Fatalf("Run %s did not finish within %s (last status: %s)", runID, timeout, last.Status)
	return last
}

// cleanupOldSources deletes all sources for the test tenant
// This is needed because source names are unique per tenant and old sources
// from previous test runs would collide
func cleanupOldSources(t *testing.T, client *HTTPClient) {
	t.Helper()

	resp, err := client.Get("/api/v1/sources")
	if err != nil {
		t.Logf("Warning: failed to list sources for cleanup: %v", err)
		return
	}

	if resp.StatusCode != 200 {
		t.Logf("Warning: failed to list sources, status: %d", resp.StatusCode)
		return
	}

	var listing struct {
		Items []map[string]any `json:"items"`
	}
	if err := parseResponseBody(resp, &listing); err != nil {
		t.Logf("Warning: failed to parse sources list: %v", err)
		return
	}

	for _, src := range listing.Items {
		id, ok := src["id"].(string)
		if !ok {
			continue
		}

		_, err := client.Delete(fmt.Sprintf("/api/v1/sources/%s", id))
		if err != nil {
			t.Logf("Warning: failed to delete source %s: %v", id, err)
		}
	}

	if len(listing.Items) > 0 {
		t.Logf("Cleaned up %d old sources", len(listing.Items))
	}
}

func parseResponseBody(resp *http.Response, v any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.Unmarshal(body, v)
}
