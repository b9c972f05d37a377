package runner

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"workmgr/internal/work"
)

type result struct {
	out work.Data
	err error
}

// Run executes fn with a copy of input and classifies the result.
//
// The function runs in its own goroutine so Run can return Cancelled as soon
// as ctx is cancelled even when fn ignores ctx; such a goroutine is left to
// finish on its own and its result is discarded. Deadline expiry is a Failure.
// A panic is recovered into a *PanicError Failure.
func Run(ctx context.Context, fn WorkFunc, input work.Data) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	done := func(o Outcome) Outcome {
		o.Started = start
		o.Duration = time.Since(start)
		return o
	}
	if fn == nil {
		return done(Outcome{Kind: Failure, Err: ErrNilWorkFunc})
	}
	if ctx.Err() != nil {
		return done(interrupted(ctx))
	}

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: &PanicError{Value: r, Stack: string(debug.Stack())}}
			}
		}()
		out, err := fn(ctx, input.Clone())
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil {
			return done(Outcome{Kind: Success, Output: r.out.Clone()})
		}
		if ctx.Err() != nil {
			return done(interrupted(ctx))
		}
		return done(Outcome{Kind: Failure, Err: r.err})
	case <-ctx.Done():
		return done(interrupted(ctx))
	}
}

func interrupted(ctx context.Context) Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Outcome{Kind: Failure, Err: context.Cause(ctx)}
	}
	return Outcome{Kind: Cancelled, Err: context.Cause(ctx)}
}
