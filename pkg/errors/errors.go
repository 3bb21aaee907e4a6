package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the failure classes the harvester and mirror act on
type ErrorType string

const (
	// ErrorTypeTransient covers network failures, 429 and 5xx responses.
	// The step is retried by running the process again.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeNotFound means the entity or version is absent; callers skip it.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeCorrupt marks an unreadable checkpoint or result file.
	// It is treated as empty state.
	ErrorTypeCorrupt ErrorType = "corrupt"
	// ErrorTypeFatal aborts the current work item.
	ErrorTypeFatal ErrorType = "fatal"
)

var (
	// ErrInterrupted is returned when a run stopped at a suspension point
	// after the caller's context was cancelled.
	ErrInterrupted = stderrors.New("interrupted")

	// ErrCheckpoint marks failures to persist progress. When wrapped in a
	// fatal Error it aborts the whole run.
	ErrCheckpoint = stderrors.New("checkpoint persistence failed")
)

// Error represents a classified failure
type Error struct {
	Type    ErrorType
	Op      string
	Item    string
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	prefix := string(e.Type)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Item != "" {
		prefix += fmt.Sprintf(" [%s]", e.Item)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", prefix, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", prefix, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message
func New(t ErrorType, op, message string) *Error {
	return &Error{Type: t, Op: op, Message: message}
}

// Wrap classifies an underlying error
func Wrap(t ErrorType, op string, err error) *Error {
	return &Error{Type: t, Op: op, Err: err}
}

// TypeOf returns the classification of err. Unclassified errors are fatal.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeFatal
}

// IsTransient reports whether err is a transient failure
func IsTransient(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == ErrorTypeTransient
}

// IsNotFound reports whether err is a not-found failure
func IsNotFound(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == ErrorTypeNotFound
}

// IsCorrupt reports whether err is a corrupt-state failure
func IsCorrupt(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == ErrorTypeCorrupt
}

// IsFatal reports whether err is fatal, including unclassified errors
func IsFatal(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeFatal
}

// IsCheckpointFatal reports whether err is a checkpoint failure that must
// abort the run
func IsCheckpointFatal(err error) bool {
	return IsFatal(err) && stderrors.Is(err, ErrCheckpoint)
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransient:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an HTTP status code to an error type.
// A zero code means no response was received.
func ClassifyStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeTransient
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeTransient
	case statusCode >= 500:
		return ErrorTypeTransient
	case statusCode == http.StatusNotFound:
		return ErrorTypeNotFound
	case statusCode == http.StatusRequestTimeout:
		return ErrorTypeTransient
	default:
		return ErrorTypeFatal
	}
}
