package queue

import (
	"context"
	"fmt"
	"time"
)

// RateStatus is the outcome of one rate-counter bump.
type RateStatus struct {
	// Count is the number of submissions in the current window,
	// including this one.
	Count int64
	// Remaining is how long until the window resets.
	Remaining time.Duration
}

// IncrRate bumps the submission counter for a client key, arming the
// window TTL on first use. The counter lives in the queue backend so every
// API instance shares one namespace.
func (q *Queue) IncrRate(ctx context.Context, clientKey string, window time.Duration) (RateStatus, error) {
	res, err := rateScript.Run(ctx, q.rdb,
		[]string{keyRatePrefix + clientKey}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return RateStatus{}, fmt.Errorf("rate %s: %w", clientKey, err)
	}
	if len(res) != 2 {
		return RateStatus{}, fmt.Errorf("rate %s: unexpected reply %v", clientKey, res)
	}
	status := RateStatus{Count: res[0]}
	if res[1] > 0 {
		status.Remaining = time.Duration(res[1]) * time.Millisecond
	} else {
		status.Remaining = window
	}
	return status, nil
}
