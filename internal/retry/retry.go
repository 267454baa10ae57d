package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
)

// Policy bounds the attempts made for one external operation
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// ShouldRetry decides whether a failed attempt is worth repeating.
	// A nil value retries every error.
	ShouldRetry func(error) bool
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Do runs fn until it succeeds, the policy is exhausted or ctx ends.
// The last attempt's error is returned on exhaustion.
func Do[T any](ctx context.Context, p Policy, name string, fn func(context.Context) (T, error)) (T, error) {
	p = p.normalize()

	builder := retrypolicy.NewBuilder[T]().
		WithBackoff(p.BaseDelay, p.MaxDelay).
		WithMaxRetries(p.MaxAttempts - 1).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		HandleIf(func(_ T, err error) bool {
			if err == nil {
				return false
			}
			if p.ShouldRetry != nil {
				return p.ShouldRetry(err)
			}
			return true
		}).
		OnRetry(func(e failsafe.ExecutionEvent[T]) {
			logrus.WithFields(logrus.Fields{
				"operation": name,
				"attempt":   e.Attempts(),
			}).Warnf("Retrying after failure: %v", e.LastError())
		})

	return failsafe.With[T](builder.Build()).WithContext(ctx).Get(func() (T, error) {
		return fn(ctx)
	})
}

// CallContext bounds one external call by timeout. The call is detached from
// the cancellation of parent so shutdown lets it finish within its budget.
func CallContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
