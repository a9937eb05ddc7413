package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/flowx/internal/model"
)

// DefaultActivityWatchHost is where the local ActivityWatch server listens.
const DefaultActivityWatchHost = "http://localhost:5600"

// bucketPrefixes are the watcher buckets worth reading: active window,
// AFK detection, and browser URLs.
var bucketPrefixes = []string{
	"aw-watcher-window_",
	"aw-watcher-afk_",
	"aw-watcher-web-",
}

// ActivityWatch reads events from ActivityWatch's local REST API.
type ActivityWatch struct {
	host       string
	httpClient *http.Client
}

// NewActivityWatch creates an adapter for the server at host.
func NewActivityWatch(host string) *ActivityWatch {
	return &ActivityWatch{
		host:       strings.TrimRight(host, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *ActivityWatch) Name() string { return "activitywatch" }

// Available reports whether the ActivityWatch server answers /api/0/info.
func (a *ActivityWatch) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.host+"/api/0/info", nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// awEvent is one event as returned by the bucket events endpoint.
type awEvent struct {
	Timestamp string         `json:"timestamp"`
	Duration  float64        `json:"duration"`
	Data      map[string]any `json:"data"`
}

// Read pulls events from every known watcher bucket in the window.
func (a *ActivityWatch) Read(ctx context.Context, since, until time.Time) ([]model.RawEvent, error) {
	buckets, err := a.listBuckets(ctx)
	if err != nil {
		return nil, err
	}

	var all []model.RawEvent
	for _, prefix := range bucketPrefixes {
		bucketID := findBucket(prefix, buckets)
		if bucketID == "" {
			continue
		}
		raw, err := a.bucketEvents(ctx, bucketID, since, until)
		if err != nil {
			return nil, fmt.Errorf("reading bucket %s: %w", bucketID, err)
		}
		for _, e := range raw {
			if event, ok := convertEvent(e); ok {
				all = append(all, event)
			}
		}
	}
	return all, nil
}

func (a *ActivityWatch) listBuckets(ctx context.Context) (map[string]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.host+"/api/0/buckets/", nil)
	if err != nil {
		return nil, fmt.Errorf("creating buckets request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing buckets: unexpected status %d", resp.StatusCode)
	}

	var buckets map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&buckets); err != nil {
		return nil, fmt.Errorf("decoding buckets: %w", err)
	}
	return buckets, nil
}

func (a *ActivityWatch) bucketEvents(ctx context.Context, bucketID string, since, until time.Time) ([]awEvent, error) {
	params := url.Values{}
	params.Set("start", since.UTC().Format(time.RFC3339))
	params.Set("end", until.UTC().Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(readLimit))

	endpoint := a.host + "/api/0/buckets/" + url.PathEscape(bucketID) + "/events?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating events request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var events []awEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decoding events: %w", err)
	}
	return events, nil
}

func findBucket(prefix string, buckets map[string]json.RawMessage) string {
	for id := range buckets {
		if strings.HasPrefix(id, prefix) {
			return id
		}
	}
	return ""
}

// convertEvent maps an ActivityWatch event to the internal shape. The
// three watcher kinds carry different data keys: window events have
// app+title, web events url+title, AFK events a status.
func convertEvent(e awEvent) (model.RawEvent, bool) {
	t, err := parseTimestamp(e.Timestamp)
	if err != nil {
		return model.RawEvent{}, false
	}

	appName, _ := e.Data["app"].(string)
	title, _ := e.Data["title"].(string)
	capturedText := ""

	if u, _ := e.Data["url"].(string); u != "" {
		capturedText = u
		if appName == "" {
			appName = "browser"
		}
	}
	if status, _ := e.Data["status"].(string); status != "" && appName == "" {
		appName = "afk:" + status
	}

	return model.RawEvent{
		Timestamp:    t,
		Source:       model.SourceActivityWatch,
		AppName:      appName,
		WindowTitle:  title,
		CapturedText: capturedText,
	}, true
}
