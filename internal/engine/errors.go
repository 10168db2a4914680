package engine

import "fmt"

// TransportError wraps a generator or reviewer failure that is about
// reachability rather than output quality. It is retried with bounded
// backoff before escalating.
type TransportError struct {
	Op  string // "generate" or "review"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// QualityExhaustedError indicates the iteration budget was spent without a
// passing review. The offending item is marked failed; the run continues
// with independent items.
type QualityExhaustedError struct {
	ItemID       string
	Iterations   int
	LastScore    float64
	LastFeedback string
}

func (e *QualityExhaustedError) Error() string {
	return fmt.Sprintf("quality gate not met for item %s after %d iterations (last score %.2f)",
		e.ItemID, e.Iterations, e.LastScore)
}
