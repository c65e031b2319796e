package extractor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no analyzer is wired, typically
	// because credentials are missing.
	ErrNotConfigured = errors.New("analyzer not configured")

	// ErrUnparseableReply is returned when an analyzer reply holds no JSON
	// object under any of the accepted wrappings.
	ErrUnparseableReply = errors.New("unparseable analyzer reply")
)

// AnalyzerError is a chunk-level analyzer failure. It never aborts a run;
// the pipeline turns it into a warning.
type AnalyzerError struct {
	Chunk int
	Total int
	Err   error
}

func (e *AnalyzerError) Error() string {
	return fmt.Sprintf("chunk %d/%d: %v", e.Chunk, e.Total, e.Err)
}

func (e *AnalyzerError) Unwrap() error {
	return e.Err
}
