package errutil

import (
	"errors"
	"fmt"
)

// Category is the coarse failure class attached to dead-letter messages for
// operational triage.
type Category string

const (
	CategoryModel    Category = "model"
	CategoryStorage  Category = "storage"
	CategoryImage    Category = "image"
	CategoryNotFound Category = "task_not_found"
	CategoryUnknown  Category = "unknown"
)

// Taxonomy sentinels. Pipeline code wraps these with %w so callers can match
// the failure class with errors.Is regardless of the underlying cause.
var (
	ErrStorage         = errors.New("storage error")
	ErrInference       = errors.New("inference error")
	ErrResponseFormat  = fmt.Errorf("%w: malformed model response", ErrInference)
	ErrImageProcessing = errors.New("image processing error")
	ErrTaskNotFound    = errors.New("task not found")
)

func Storage(err error, format string, args ...any) error {
	return wrap(ErrStorage, err, format, args...)
}

func Inference(err error, format string, args ...any) error {
	return wrap(ErrInference, err, format, args...)
}

func ResponseFormat(format string, args ...any) error {
	return wrap(ErrResponseFormat, nil, format, args...)
}

func ImageProcessing(err error, format string, args ...any) error {
	return wrap(ErrImageProcessing, err, format, args...)
}

func wrap(sentinel, cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return fmt.Errorf("%w: %s: %v", sentinel, msg, cause)
}

// Classify maps an error to its dead-letter category. TaskNotFound is checked
// first since it carries its own category; ResponseFormat collapses into the
// model category.
func Classify(err error) Category {
	switch {
	case errors.Is(err, ErrTaskNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrInference):
		return CategoryModel
	case errors.Is(err, ErrStorage):
		return CategoryStorage
	case errors.Is(err, ErrImageProcessing):
		return CategoryImage
	default:
		return CategoryUnknown
	}
}
