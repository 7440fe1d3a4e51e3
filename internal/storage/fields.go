package storage

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type columnKind int

const (
	kindInt columnKind = iota
	kindNullInt
	kindFloat
	kindNullFloat
	kindString
	kindNullString
	kindDate
	kindJSON
	kindTime
)

// writableColumns lists the columns an update may touch, per updatable table.
// id, created_at and version are owned by the store.
var writableColumns = map[string]map[string]columnKind{
	TableWeeklyLogs: {
		"week_ending":                kindDate,
		"dau":                        kindInt,
		"wau":                        kindInt,
		"mau":                        kindInt,
		"sessions_per_user":          kindFloat,
		"avg_session_length_minutes": kindFloat,
		"retention_rate":             kindFloat,
		"churn_rate":                 kindFloat,
		"feature_adoption":           kindFloat,
		"engagement_score":           kindInt,
		"nps_score":                  kindNullInt,
		"error_rate":                 kindFloat,
		"phi_opt_in_rate":            kindFloat,
		"mobile_percentage":          kindFloat,
		"desktop_percentage":         kindFloat,
		"conversion_rate":            kindFloat,
		"user_growth":                kindInt,
		"notes":                      kindString,
		"metadata":                   kindJSON,
		"recorded_by":                kindNullString,
	},
	TableCohortRetention: {
		"cohort_signup_week": kindDate,
		"cohort_name":        kindNullString,
		"user_count":         kindInt,
		"day_1_retention":    kindFloat,
		"day_7_retention":    kindFloat,
		"day_14_retention":   kindNullFloat,
		"day_30_retention":   kindFloat,
		"day_60_retention":   kindNullFloat,
		"day_90_retention":   kindNullFloat,
		"notes":              kindString,
		"updated_at":         kindTime,
	},
}

// WritableColumns returns the sorted column names an update may set on table.
func WritableColumns(table string) []string {
	cols := make([]string, 0, len(writableColumns[table]))
	for c := range writableColumns[table] {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// NormalizeFields checks every key against the table's writable columns and
// coerces values (numbers, numeric strings, dates) to their column types.
// String input is accepted so that CLI "key=value" pairs can be passed through.
func NormalizeFields(table string, in Fields) (Fields, error) {
	cols, ok := writableColumns[table]
	if !ok {
		return nil, fmt.Errorf("table %s is not updatable: %w", table, ErrUnknownField)
	}
	out := make(Fields, len(in))
	for key, raw := range in {
		kind, ok := cols[key]
		if !ok {
			return nil, fmt.Errorf("%s.%s: %w", table, key, ErrUnknownField)
		}
		v, err := coerce(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w: %w", table, key, ErrInvalidValue, err)
		}
		out[key] = v
	}
	return out, nil
}

// SortedKeys returns the keys of f in lexical order, for deterministic SQL.
func (f Fields) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether any of the given keys is present.
func (f Fields) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := f[k]; ok {
			return true
		}
	}
	return false
}

// Snapshot converts a record into Fields keyed by its JSON (column) names.
func Snapshot(v any) (Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return f, nil
}

// Apply overlays f onto a copy of the record dst points to.
func Apply(dst any, f Fields) error {
	base, err := Snapshot(dst)
	if err != nil {
		return err
	}
	for k, v := range f {
		base[k] = v
	}
	data, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	return nil
}

func isNullString(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, "null")
}

func coerce(kind columnKind, raw any) (any, error) {
	switch kind {
	case kindNullInt, kindNullFloat, kindNullString:
		if raw == nil {
			return nil, nil
		}
		if s, ok := raw.(string); ok {
			if kind == kindNullString && strings.EqualFold(strings.TrimSpace(s), "null") {
				return nil, nil
			}
			if kind != kindNullString && isNullString(s) {
				return nil, nil
			}
		}
		if p, ok := raw.(*string); ok {
			if p == nil {
				return nil, nil
			}
			raw = *p
		}
	}

	switch kind {
	case kindInt, kindNullInt:
		return toInt(raw)
	case kindFloat, kindNullFloat:
		return toFloat(raw)
	case kindString, kindNullString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case nil:
			return "", nil
		default:
			return fmt.Sprint(v), nil
		}
	case kindDate:
		switch v := raw.(type) {
		case Date:
			return v, nil
		case time.Time:
			return NewDate(v), nil
		case string:
			return ParseDate(v)
		}
		return nil, fmt.Errorf("expected date, got %T", raw)
	case kindJSON:
		switch v := raw.(type) {
		case nil:
			return map[string]any{}, nil
		case map[string]any:
			return v, nil
		case string:
			m := map[string]any{}
			if isNullString(v) {
				return m, nil
			}
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				return nil, fmt.Errorf("expected JSON object: %w", err)
			}
			return m, nil
		}
		return nil, fmt.Errorf("expected JSON object, got %T", raw)
	case kindTime:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			return parseTimestamp(v)
		}
		return nil, fmt.Errorf("expected timestamp, got %T", raw)
	}
	return nil, fmt.Errorf("unsupported column kind %d", kind)
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", raw)
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", raw)
}
