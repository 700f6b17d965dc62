package document

import "fmt"

// ErrorKind classifies extraction failures.
type ErrorKind string

const (
	KindUnsupportedType ErrorKind = "unsupported_type"
	KindTooLarge        ErrorKind = "too_large"
	KindEmpty           ErrorKind = "empty"
	KindCorrupt         ErrorKind = "corrupt"
)

// ExtractionError reports a per-file extraction failure. Inside a batch it is
// converted to a per-item result and never aborts sibling documents.
type ExtractionError struct {
	Filename string
	Kind     ErrorKind
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Filename, e.Message)
}

// Unwrap returns the wrapped error.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}
