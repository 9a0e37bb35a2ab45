package pipeline

import (
	"context"
	"time"

	"github.com/IshaanNene/RankWatch/internal/types"
)

// Budget is the execution time left to one invocation. A step stops with a
// *types.TimeoutError once less than Reserve remains before Deadline, so the
// caller can report the condition before the platform kills the process.
// The zero Budget never expires.
type Budget struct {
	Deadline time.Time
	Reserve  time.Duration

	now func() time.Time
}

// NewBudget returns a Budget expiring total from now. A non-positive total
// yields an unlimited budget.
func NewBudget(total, reserve time.Duration) Budget {
	if total <= 0 {
		return Budget{}
	}
	return Budget{Deadline: time.Now().Add(total), Reserve: reserve}
}

func (b Budget) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// Unlimited reports whether the budget has no deadline.
func (b Budget) Unlimited() bool {
	return b.Deadline.IsZero()
}

// Remaining is the usable time left, after the reserve.
func (b Budget) Remaining() time.Duration {
	if b.Unlimited() {
		return time.Duration(1<<63 - 1)
	}
	return b.Deadline.Sub(b.clock()) - b.Reserve
}

// Check returns a *types.TimeoutError naming stage when the usable time is
// spent.
func (b Budget) Check(stage, retryFrom string) error {
	if b.Unlimited() {
		return nil
	}
	if left := b.Remaining(); left <= 0 {
		return &types.TimeoutError{Stage: stage, RetryFrom: retryFrom, Remaining: left + b.Reserve}
	}
	return nil
}

// Context bounds ctx by the usable deadline.
func (b Budget) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.Unlimited() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, b.Deadline.Add(-b.Reserve))
}
