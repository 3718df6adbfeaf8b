package metrics

import "sort"

// FailureBucket is the failure count for one target and error kind.
type FailureBucket struct {
	Target string
	Kind   string
	Count  int
}

// FlattenFailureBuckets converts per-target failure kinds into sorted rows.
// Rows are sorted by descending count, then by target/kind for stability.
func FlattenFailureBuckets(targets map[string]TargetStats) []FailureBucket {
	if len(targets) == 0 {
		return nil
	}
	var rows []FailureBucket
	for target, ts := range targets {
		for kind, count := range ts.FailureKinds {
			rows = append(rows, FailureBucket{Target: target, Kind: kind, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Target == rows[j].Target {
				return rows[i].Kind < rows[j].Kind
			}
			return rows[i].Target < rows[j].Target
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
