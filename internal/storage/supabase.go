package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	maxSupabaseResponseBytes  = 8 << 20  // 8 MiB
	maxSupabaseErrorBodyBytes = 32 << 10 // 32 KiB

	// Optimistic retries for last-write-wins updates on the REST backend.
	maxUpdateAttempts = 3
)

// SupabaseConfig holds the hosted row-store connection settings.
type SupabaseConfig struct {
	URL        string
	ServiceKey string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// SupabaseStore implements Store over the Supabase (PostgREST) REST API.
// It has no multi-statement transactions, so it does not implement
// Transactor; the coordinator falls back to persist-then-audit for it.
type SupabaseStore struct {
	url        string
	serviceKey string
	httpClient *http.Client
}

// NewSupabaseStore creates a REST-backed store.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("supabase url %q is not a valid URL", cfg.URL)
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("supabase url must not include user info")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		transport := http.DefaultTransport
		if base, ok := http.DefaultTransport.(*http.Transport); ok {
			cloned := base.Clone()
			cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			transport = cloned
		}
		client = &http.Client{Timeout: timeout, Transport: transport}
	}

	return &SupabaseStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: client,
	}, nil
}

// Close releases idle connections.
func (c *SupabaseStore) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("supabase API error %d: %s", e.status, e.body)
}

// request makes an HTTP request to the REST API and returns the raw body.
func (c *SupabaseStore) request(ctx context.Context, method, table, query string, body any) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.url, table)
	if query != "" {
		endpoint += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, truncated, readErr := readLimited(resp.Body, maxSupabaseErrorBodyBytes)
		if readErr != nil {
			return nil, fmt.Errorf("read error response: %w", readErr)
		}
		msg := strings.TrimSpace(string(data))
		if truncated {
			msg += "...(truncated)"
		}
		apiErr := &apiError{status: resp.StatusCode, body: msg}
		if resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %v", ErrConflict, apiErr)
		}
		return nil, apiErr
	}

	data, truncated, err := readLimited(resp.Body, maxSupabaseResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if truncated {
		return nil, fmt.Errorf("read response: body exceeds %d bytes", maxSupabaseResponseBytes)
	}
	return data, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

func restList[T any](ctx context.Context, c *SupabaseStore, table, columns string, opts ListOptions, defaultCol string, defaultDesc bool) ([]T, error) {
	col, desc, err := orderColumn(columns, opts, defaultCol, defaultDesc)
	if err != nil {
		return nil, err
	}
	dir := "asc"
	if desc {
		dir = "desc"
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", fmt.Sprintf("%s.%s,id.%s", col, dir, dir))
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprint(opts.Limit))
	}

	data, err := c.request(ctx, http.MethodGet, table, q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	out := []T{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	return out, nil
}

func restGet[T any](ctx context.Context, c *SupabaseStore, table, id string) (*T, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+id)
	data, err := c.request(ctx, http.MethodGet, table, q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return &out[0], nil
}

// serverAssigned are columns the database fills in on insert.
var serverAssigned = []string{"id", "created_at", "updated_at", "version"}

func restInsert[T any](ctx context.Context, c *SupabaseStore, table string, row *T) error {
	payload, err := Snapshot(row)
	if err != nil {
		return err
	}
	for _, k := range serverAssigned {
		delete(payload, k)
	}
	// Absent columns take their database default, null included.
	for k, v := range payload {
		if v == nil {
			delete(payload, k)
		}
	}

	data, err := c.request(ctx, http.MethodPost, table, "", payload)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode %s: %w", table, err)
	}
	if len(out) == 0 {
		return fmt.Errorf("insert %s: empty representation returned", table)
	}
	*row = out[0]
	return nil
}

type versionRow struct {
	Version int64 `json:"version"`
}

// restUpdate emulates the SQLite compare-and-set with a version filter.
func restUpdate(ctx context.Context, c *SupabaseStore, table, id string, fields Fields, expectedVersion int64) error {
	norm, err := NormalizeFields(table, fields)
	if err != nil {
		return err
	}
	if len(norm) == 0 {
		return fmt.Errorf("update %s %s: no fields given", table, id)
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		version := expectedVersion
		if version <= 0 {
			current, err := restGet[versionRow](ctx, c, table, id)
			if err != nil {
				return err
			}
			version = current.Version
		}

		body := make(map[string]any, len(norm)+1)
		for k, v := range norm {
			body[k] = v
		}
		body["version"] = version + 1
		if table == TableCohortRetention && !norm.Has("updated_at") {
			body["updated_at"] = time.Now().UTC()
		}

		q := url.Values{}
		q.Set("id", "eq."+id)
		q.Set("version", fmt.Sprintf("eq.%d", version))
		data, err := c.request(ctx, http.MethodPatch, table, q.Encode(), body)
		if err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}
		var updated []versionRow
		if err := json.Unmarshal(data, &updated); err != nil {
			return fmt.Errorf("decode %s: %w", table, err)
		}
		if len(updated) > 0 {
			return nil
		}

		if _, err := restGet[versionRow](ctx, c, table, id); err != nil {
			return err
		}
		if expectedVersion > 0 {
			return fmt.Errorf("%s %s at version %d: %w", table, id, expectedVersion, ErrStaleWrite)
		}
	}
	return fmt.Errorf("%s %s: %w", table, id, ErrStaleWrite)
}

func (c *SupabaseStore) ListWeeklyLogs(ctx context.Context, opts ListOptions) ([]WeeklyLog, error) {
	return restList[WeeklyLog](ctx, c, TableWeeklyLogs, weeklyLogColumns, opts, "week_ending", true)
}

func (c *SupabaseStore) GetWeeklyLog(ctx context.Context, id string) (*WeeklyLog, error) {
	return restGet[WeeklyLog](ctx, c, TableWeeklyLogs, id)
}

func (c *SupabaseStore) InsertWeeklyLog(ctx context.Context, l *WeeklyLog) error {
	return restInsert(ctx, c, TableWeeklyLogs, l)
}

func (c *SupabaseStore) UpdateWeeklyLog(ctx context.Context, id string, fields Fields, expectedVersion int64) error {
	return restUpdate(ctx, c, TableWeeklyLogs, id, fields, expectedVersion)
}

func (c *SupabaseStore) ListFeatureAdoption(ctx context.Context, opts ListOptions) ([]FeatureAdoption, error) {
	return restList[FeatureAdoption](ctx, c, TableFeatureAdoption, featureAdoptionColumns, opts, "week_ending", true)
}

func (c *SupabaseStore) GetFeatureAdoption(ctx context.Context, id string) (*FeatureAdoption, error) {
	return restGet[FeatureAdoption](ctx, c, TableFeatureAdoption, id)
}

func (c *SupabaseStore) InsertFeatureAdoption(ctx context.Context, f *FeatureAdoption) error {
	return restInsert(ctx, c, TableFeatureAdoption, f)
}

func (c *SupabaseStore) ListCohortRetention(ctx context.Context, opts ListOptions) ([]CohortRetention, error) {
	return restList[CohortRetention](ctx, c, TableCohortRetention, cohortRetentionColumns, opts, "cohort_signup_week", true)
}

func (c *SupabaseStore) GetCohortRetention(ctx context.Context, id string) (*CohortRetention, error) {
	return restGet[CohortRetention](ctx, c, TableCohortRetention, id)
}

func (c *SupabaseStore) InsertCohortRetention(ctx context.Context, row *CohortRetention) error {
	return restInsert(ctx, c, TableCohortRetention, row)
}

func (c *SupabaseStore) UpdateCohortRetention(ctx context.Context, id string, fields Fields, expectedVersion int64) error {
	return restUpdate(ctx, c, TableCohortRetention, id, fields, expectedVersion)
}

func (c *SupabaseStore) ListUserSegments(ctx context.Context, opts ListOptions) ([]UserSegment, error) {
	return restList[UserSegment](ctx, c, TableUserSegments, userSegmentColumns, opts, "week_ending", true)
}

func (c *SupabaseStore) GetUserSegment(ctx context.Context, id string) (*UserSegment, error) {
	return restGet[UserSegment](ctx, c, TableUserSegments, id)
}

func (c *SupabaseStore) InsertUserSegment(ctx context.Context, row *UserSegment) error {
	return restInsert(ctx, c, TableUserSegments, row)
}

func (c *SupabaseStore) ListMetricDefinitions(ctx context.Context, opts ListOptions) ([]MetricDefinition, error) {
	return restList[MetricDefinition](ctx, c, TableMetricDefinitions, metricDefinitionColumns, opts, "metric_name", false)
}

func (c *SupabaseStore) ListChangeLog(ctx context.Context, opts ListOptions) ([]ChangeLogEntry, error) {
	return restList[ChangeLogEntry](ctx, c, TableChangeLog, changeLogColumns, opts, "created_at", true)
}

func (c *SupabaseStore) AppendChangeLog(ctx context.Context, e *ChangeLogEntry) error {
	return restInsert(ctx, c, TableChangeLog, e)
}

// IsAPIError reports whether err came back from the REST API with the given status.
func IsAPIError(err error, status int) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.status == status
}
