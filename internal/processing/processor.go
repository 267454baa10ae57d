package processing

import (
	"context"

	"github.com/nuance-network/nuance-validator/internal/models"
)

// Result is the tagged outcome of one processing stage or a whole pipeline
type Result[T any] struct {
	Status    models.ProcessingStatus
	Output    T
	Processor string
	Reason    string
	Details   map[string]any
}

// Accepted reports whether the stage let the input through
func (r Result[T]) Accepted() bool {
	return r.Status == models.StatusAccepted
}

// Note renders the reason for persisting alongside the item
func (r Result[T]) Note() string {
	if r.Reason == "" {
		return ""
	}
	if r.Processor == "" {
		return r.Reason
	}
	return r.Processor + ": " + r.Reason
}

// Accept builds an accepting result
func Accept[T any](processor string, output T, details map[string]any) Result[T] {
	return Result[T]{Status: models.StatusAccepted, Output: output, Processor: processor, Details: details}
}

// Reject builds an expected, non-retried rejection
func Reject[T any](processor string, output T, reason string) Result[T] {
	return Result[T]{Status: models.StatusRejected, Output: output, Processor: processor, Reason: reason}
}

// Processor is one stage of content evaluation. Expected rejections are
// reported through the Result; a returned error means the stage could not
// reach a verdict and may be retried.
type Processor[T any] interface {
	Name() string
	Process(ctx context.Context, input T) (Result[T], error)
}
