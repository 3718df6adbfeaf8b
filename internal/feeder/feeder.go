// Package feeder reads target URLs and identity pools from data files.
package feeder

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Fields looked up in CSV headers and JSON objects.
const (
	FieldURL       = "url"
	FieldUserAgent = "user_agent"
	FieldReferrer  = "referrer"
)

// ErrEmpty is returned when a file yields no values.
var ErrEmpty = errors.New("feeder: no values in file")

// Load reads the field column of path. The format follows the extension:
//
//	.csv   header row, values taken from the field column (or the only column)
//	.json  array of strings, or array of objects carrying field
//	other  one value per line; blank lines and # comments are skipped
//
// Values are trimmed and blanks dropped; order is preserved.
func Load(path, field string) ([]string, error) {
	var (
		values []string
		err    error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		values, err = readCSV(path, field)
	case ".json":
		values, err = readJSON(path, field)
	default:
		values, err = readLines(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return values, nil
}

func appendValue(values []string, v string) []string {
	if v = strings.TrimSpace(v); v != "" {
		values = append(values, v)
	}
	return values
}
