package domain

import (
	"errors"
	"fmt"
)

// Error codes attached to ingest failures and log events.
const (
	CodeRSSHTTPError            = "RSS_HTTP_ERROR"
	CodeRSSFetchFailed          = "RSS_FETCH_FAILED"
	CodeSummaryGenerationFailed = "SUMMARY_GENERATION_FAILED"
	CodePersonFetchFailed       = "PERSON_FETCH_FAILED"
	CodeArticleProcessFailed    = "ARTICLE_PROCESS_FAILED"
	CodeIngestJobFailed         = "INGEST_JOB_FAILED"
	CodeIngestRetry             = "INGEST_RETRY"
)

// IngestError is a failure with a machine-readable code.
type IngestError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func NewError(code, message string, details map[string]any, cause error) *IngestError {
	if details == nil {
		details = map[string]any{}
	}
	return &IngestError{Code: code, Message: message, Details: details, Err: cause}
}

func (e *IngestError) Error() string {
	if e.Err != nil && e.Message != e.Err.Error() {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *IngestError) Unwrap() error { return e.Err }

// CodeOf returns the code of the first IngestError in err's chain, or fallback.
func CodeOf(err error, fallback string) string {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return fallback
}

// DetailsOf returns the details of the first IngestError in err's chain.
func DetailsOf(err error) map[string]any {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Details
	}
	return nil
}
