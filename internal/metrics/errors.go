package metrics

import "github.com/technews/pagevisit/internal/runner"

var kindLabels = map[string]string{
	string(runner.KindTimeout):           "Navigation timeout",
	string(runner.KindNetwork):           "Network error",
	string(runner.KindCanceled):          "Canceled",
	string(runner.KindResourceExhausted): "Browser unavailable",
}

// FriendlyKindName returns a human-friendly label for a failure kind.
func FriendlyKindName(kind string) string {
	if label, ok := kindLabels[kind]; ok {
		return label
	}
	if kind == "" {
		return "Unknown error"
	}
	return kind
}
