package feeder

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// readCSV returns the field column of a CSV file whose first row is the header.
// A single-column file is accepted whatever its header says.
func readCSV(path, field string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), field) {
			col = i
			break
		}
	}
	if col < 0 {
		if len(header) != 1 {
			return nil, fmt.Errorf("CSV header has no %q column", field)
		}
		col = 0
	}

	var values []string
	for _, row := range rows[1:] {
		values = appendValue(values, row[col])
	}
	return values, nil
}
