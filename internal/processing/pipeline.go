package processing

import (
	"context"
	"fmt"

	"github.com/nuance-network/nuance-validator/internal/models"
)

// Pipeline runs processors in order and stops at the first one that does not accept.
// It holds no per-call state and is safe for concurrent use.
type Pipeline[T any] struct {
	processors []Processor[T]
}

// NewPipeline creates an immutable pipeline
func NewPipeline[T any](processors ...Processor[T]) *Pipeline[T] {
	return &Pipeline[T]{processors: append([]Processor[T](nil), processors...)}
}

// Names lists the processors in execution order
func (p *Pipeline[T]) Names() []string {
	names := make([]string, len(p.processors))
	for i, proc := range p.processors {
		names[i] = proc.Name()
	}
	return names
}

// Process feeds each stage the previous stage's output. When every stage
// accepts, the last output is returned with the details of all stages merged.
func (p *Pipeline[T]) Process(ctx context.Context, input T) (Result[T], error) {
	current := input
	details := make(map[string]any)
	last := Accept("", input, nil)

	for _, proc := range p.processors {
		if err := ctx.Err(); err != nil {
			return Result[T]{Status: models.StatusError, Output: current, Processor: proc.Name(), Reason: err.Error()}, err
		}

		res, err := proc.Process(ctx, current)
		if err != nil {
			return Result[T]{
				Status:    models.StatusError,
				Output:    current,
				Processor: proc.Name(),
				Reason:    err.Error(),
			}, fmt.Errorf("%s: %w", proc.Name(), err)
		}

		if !res.Accepted() {
			if res.Processor == "" {
				res.Processor = proc.Name()
			}
			return res, nil
		}

		for k, v := range res.Details {
			details[k] = v
		}
		current = res.Output
		last = res
	}

	last.Output = current
	last.Details = details
	return last, nil
}
