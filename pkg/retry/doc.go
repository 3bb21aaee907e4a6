// Package retry re-runs operations that failed with transient registry
// errors.
//
// The harvest and mirror drivers never retry in-process: a transient failure
// aborts the run and the checkpoint makes the next run pick up where this one
// stopped. Retry is used by one-shot commands such as the count snapshot,
// where there is no checkpoint to fall back on:
//
//	total, err := retry.DoWithResult(func() (int, error) {
//	    return fetchTotal(ctx, query)
//	}, &retry.Config{MaxAttempts: 3, Backoff: retry.NewStatusBackoff(), Context: ctx})
package retry
