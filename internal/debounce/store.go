package debounce

import "context"

// Store is the ordered per-key buffer the coordinator appends to and drains.
// Reads must return values in insertion order. An end index of -1 means "to the tail".
type Store interface {
	Append(ctx context.Context, key, value string) error
	ReadRange(ctx context.Context, key string, start, end int64) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Result is what every Submit caller receives once its cycle completes.
// All waiters of a cycle share the same aggregated message; Leader is set for
// exactly one of them (the most recent submitter still waiting) when
// ShouldProceed is true, so the message is dispatched once.
type Result struct {
	ShouldProceed     bool   `json:"shouldProceed"`
	AggregatedMessage string `json:"aggregatedMessage,omitempty"`
	Leader            bool   `json:"-"`
}

// ActiveKey describes a key that has a live timer or a drain in progress.
type ActiveKey struct {
	Key      string `json:"key"`
	InFlight bool   `json:"inFlight"`
}
