package sensorapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	monitoring "geotech-monitor/internal/monitoring/domain"
	"geotech-monitor/internal/observability/metrics"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 250 * time.Millisecond

	readingTypeTil90 = "til90ReadingsV1"
)

// FetchError classifies a failed fetch. Transient failures are worth
// retrying; permanent ones are not.
type FetchError struct {
	NodeID    string
	Transient bool
	Err       error
}

// Error implements error.
func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("sensorapi: %s fetch error for node %s: %v", kind, e.NodeID, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient fetch error.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

// Client is a minimal dataserver REST client with basic auth.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithAttempts overrides the retry attempt budget.
func WithAttempts(attempts int) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
	}
}

// WithBackoff overrides the base retry backoff.
func WithBackoff(backoff time.Duration) ClientOption {
	return func(c *Client) {
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewClient constructs a sensor API client.
func NewClient(baseURL, username, password string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("sensorapi: empty base url")
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// rawRecord mirrors one dataserver record. Only til90 readings carry
// per-channel tilt values.
type rawRecord struct {
	Type  string `json:"type"`
	Value struct {
		ReadTimestamp time.Time `json:"readTimestamp"`
		Readings      []struct {
			Channel int     `json:"channel"`
			Tilt    float64 `json:"tilt"`
		} `json:"readings"`
	} `json:"value"`
}

// FetchLatest returns the newest usable reading for a node. Transient
// failures (network errors, 5xx, 429) are retried with exponential backoff
// up to the attempt budget; permanent failures surface immediately.
func (c *Client) FetchLatest(ctx context.Context, node monitoring.Node) (monitoring.Reading, error) {
	if c == nil {
		return monitoring.Reading{}, errors.New("sensorapi: nil client")
	}
	if err := node.Validate(); err != nil {
		return monitoring.Reading{}, &FetchError{NodeID: node.ID, Transient: false, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			metrics.IncFetchRetry()
			if err := c.sleep(ctx, c.backoff<<(attempt-1)); err != nil {
				return monitoring.Reading{}, &FetchError{NodeID: node.ID, Transient: true, Err: err}
			}
		}
		reading, err := c.fetchOnce(ctx, node)
		if err == nil {
			return reading, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return monitoring.Reading{}, err
		}
	}
	return monitoring.Reading{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, node monitoring.Node) (monitoring.Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/nodes/"+node.ID, nil)
	if err != nil {
		return monitoring.Reading{}, &FetchError{NodeID: node.ID, Transient: false, Err: err}
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return monitoring.Reading{}, &FetchError{NodeID: node.ID, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return monitoring.Reading{}, &FetchError{NodeID: node.ID, Transient: true, Err: fmt.Errorf("http %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return monitoring.Reading{}, &FetchError{NodeID: node.ID, Transient: false, Err: errors.New("unknown node")}
	default:
		return monitoring.Reading{}, &FetchError{NodeID: node.ID, Transient: false, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var records []rawRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return monitoring.Reading{}, &FetchError{NodeID: node.ID, Transient: false, Err: fmt.Errorf("malformed response: %w", err)}
	}

	reading, ok := newestReading(node.ID, records)
	if !ok {
		return monitoring.Reading{}, &FetchError{NodeID: node.ID, Transient: false, Err: errors.New("no usable records")}
	}
	return reading, nil
}

// newestReading picks the newest til90 record and maps its channel indexes
// to the x/y/z axis labels used everywhere downstream.
func newestReading(nodeID string, records []rawRecord) (monitoring.Reading, bool) {
	var best monitoring.Reading
	found := false
	for _, record := range records {
		if record.Type != readingTypeTil90 {
			continue
		}
		if record.Value.ReadTimestamp.IsZero() || len(record.Value.Readings) == 0 {
			continue
		}
		reading := monitoring.Reading{
			NodeID:    nodeID,
			Timestamp: record.Value.ReadTimestamp.UTC(),
		}
		for _, channel := range record.Value.Readings {
			label, ok := channelLabel(channel.Channel)
			if !ok {
				continue
			}
			reading.Channels = append(reading.Channels, monitoring.ChannelValue{Channel: label, Value: channel.Tilt})
		}
		if len(reading.Channels) == 0 {
			continue
		}
		if !found || reading.Timestamp.After(best.Timestamp) {
			best = reading
			found = true
		}
	}
	return best, found
}

func channelLabel(index int) (string, bool) {
	switch index {
	case 0:
		return "x", true
	case 1:
		return "y", true
	case 2:
		return "z", true
	default:
		return "", false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
