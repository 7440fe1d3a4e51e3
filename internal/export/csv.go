// Package export writes record collections as CSV files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DateLayout is the export-date suffix of generated file names.
const DateLayout = "2006-01-02"

// FileName returns "{base}_{YYYY-MM-DD}.csv" for the export date now.
func FileName(base string, now time.Time) string {
	return fmt.Sprintf("%s_%s.csv", base, now.Format(DateLayout))
}

// Columns returns the CSV header for a struct type: its json tag names in
// field declaration order.
func Columns(t reflect.Type) []string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	cols := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if name, ok := columnName(t.Field(i)); ok {
			cols = append(cols, name)
		}
	}
	return cols
}

func columnName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return "", false
	case "":
		return f.Name, true
	}
	return name, true
}

// WriteCSV writes a header row and one row per record. An empty collection
// writes nothing at all. Fields are quoted as needed by encoding/csv, so
// commas, quotes and newlines inside values survive a round trip.
func WriteCSV[T any](w io.Writer, rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	t := reflect.TypeOf(rows[0])
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("export: %s is not a struct type", t)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns(t)); err != nil {
		return err
	}

	record := make([]string, 0, t.NumField())
	for _, row := range rows {
		v := reflect.ValueOf(row)
		for v.Kind() == reflect.Pointer {
			v = v.Elem()
		}
		record = record[:0]
		for i := 0; i < t.NumField(); i++ {
			if _, ok := columnName(t.Field(i)); !ok {
				continue
			}
			cell, err := formatValue(v.Field(i))
			if err != nil {
				return fmt.Errorf("export %s: %w", t.Field(i).Name, err)
			}
			record = append(record, cell)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	rawJSONType  = reflect.TypeOf(json.RawMessage(nil))
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

func formatValue(v reflect.Value) (string, error) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", nil
		}
		v = v.Elem()
	}

	switch {
	case v.Type() == timeType:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "", nil
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	case v.Type() == rawJSONType:
		return string(v.Bytes()), nil
	case v.Type().Implements(stringerType):
		return v.Interface().(fmt.Stringer).String(), nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Map, reflect.Slice, reflect.Struct:
		if (v.Kind() == reflect.Map || v.Kind() == reflect.Slice) && v.IsNil() {
			return "", nil
		}
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return fmt.Sprint(v.Interface()), nil
}

// ToFile writes rows to dir/FileName(base, now) and returns the path. On an
// empty collection no file is created and the path is "".
func ToFile[T any](dir, base string, rows []T, now time.Time) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(dir, FileName(base, now))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return path, nil
}
