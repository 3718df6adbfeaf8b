package feeder

import (
	"encoding/json"
	"fmt"
	"os"
)

// readJSON accepts an array whose items are either strings or objects
// holding field.
func readJSON(path, field string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open JSON file: %w", err)
	}
	defer file.Close()

	var items []json.RawMessage
	if err := json.NewDecoder(file).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	var values []string
	for i, raw := range items {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			values = appendValue(values, s)
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("item %d: want string or object", i)
		}
		v, ok := obj[field]
		if !ok {
			return nil, fmt.Errorf("item %d: missing %q", i, field)
		}
		values = appendValue(values, fmt.Sprintf("%v", v))
	}
	return values, nil
}
