// Package pool provides a bounded-parallelism task runner shared by
// file-level and chunk-level transfer dispatch.
//
// Two failure policies are supported: FailFast stops the run on the first
// error (used within one file's parts, where a partial file has no value),
// and ContinueAll settles every task regardless of failures (used across
// files, so one bad file does not block the rest).
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is used when the caller passes a non-positive concurrency.
const DefaultLimit = 5

// Task is one unit of work.
type Task func(ctx context.Context) error

// Settle describes one finished task.
type Settle struct {
	// Index is the task's position in the submitted queue
	Index int

	// Err is the task's outcome, nil on success
	Err error
}

// FailFast runs tasks with at most limit in flight and returns the first
// error; remaining tasks observe a cancelled context and are skipped.
func FailFast(ctx context.Context, limit int, tasks []Task) error {
	if limit <= 0 {
		limit = DefaultLimit
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return task(ctx)
		})
	}
	return g.Wait()
}

// ContinueAll runs every task with at most limit in flight and invokes
// onSettle once per task as it finishes. onSettle is called from the
// calling goroutine only, one settle at a time, so it may mutate shared
// aggregates without locking. Once ctx is cancelled no new tasks are
// dispatched; undispatched tasks settle with the context error, while
// in-flight tasks finish naturally.
func ContinueAll(ctx context.Context, limit int, tasks []Task, onSettle func(Settle)) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	results := make(chan Settle)
	sem := make(chan struct{}, limit)

	go func() {
		var wg sync.WaitGroup
		for i, task := range tasks {
			// Checked before the select: with a free semaphore slot the
			// select would pick a ready case at random, which could still
			// dispatch after cancellation.
			if err := ctx.Err(); err != nil {
				results <- Settle{Index: i, Err: err}
				continue
			}

			select {
			case <-ctx.Done():
				results <- Settle{Index: i, Err: ctx.Err()}
				continue
			case sem <- struct{}{}:
			}

			wg.Add(1)
			go func(i int, task Task) {
				defer wg.Done()
				defer func() { <-sem }()
				results <- Settle{Index: i, Err: task(ctx)}
			}(i, task)
		}
		wg.Wait()
	}()

	for range tasks {
		s := <-results
		if onSettle != nil {
			onSettle(s)
		}
	}
}
