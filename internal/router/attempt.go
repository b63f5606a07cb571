// Package router performs fallback reads across a topology's shard groups.
// Every read tries the permitted groups in caller order and, within a group,
// the replicas in priority order. Per-replica faults are swallowed and logged;
// only full exhaustion surfaces to the caller, as a not-found.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrExhausted is the cause of every aggregated ranked-attempt failure.
var ErrExhausted = errors.New("all attempts failed")

// Op is one fallible operation in a ranked-attempt sequence.
type Op[T any] struct {
	// Label names the attempt in the aggregated failure, typically the
	// replica endpoint being tried.
	Label string

	// Do runs the attempt. A nil error means success and stops the sequence.
	Do func(ctx context.Context) (T, error)
}

// First runs ops in order and returns the result of the first one that
// succeeds. Individual failures are collected, not surfaced; when every
// attempt fails the returned error wraps ErrExhausted and lists each failure.
// A canceled context aborts the sequence with the context's error.
func First[T any](ctx context.Context, ops []Op[T]) (T, error) {
	var zero T
	if len(ops) == 0 {
		return zero, errors.Wrap(ErrExhausted, "no attempts to run")
	}
	failures := make([]string, 0, len(ops))
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := op.Do(ctx)
		if err == nil {
			return v, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", op.Label, err))
	}
	return zero, errors.Wrap(ErrExhausted, strings.Join(failures, "; "))
}
