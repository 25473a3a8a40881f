package pipeline

import (
	"errors"
	"fmt"
)

const (
	CodeStoreSetup   = "STORE_SETUP"
	CodeBrowserStart = "BROWSER_START"
	CodeDiscovery    = "DISCOVERY"
	CodeCollect      = "COLLECT"
	CodeStoreWrite   = "STORE_WRITE"

	// Scheduler codes.
	CodeRunInProgress = "RUN_IN_PROGRESS"
	CodeNoRuns        = "NO_RUNS"
)

// CodedError is a fatal run error with a stable code for callers and exit
// status mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// IsSetupError reports whether err stopped the run before any scraping.
func IsSetupError(err error) bool {
	var ce *CodedError
	return errors.As(err, &ce) && ce.Code == CodeStoreSetup
}
