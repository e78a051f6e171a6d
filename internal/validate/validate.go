// Package validate implements the anomaly guard that decides whether a raw
// observation can be trusted against the target's history.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"stockwatch/internal/model"
)

// Defaults preserved from the reference behavior.
const (
	DefaultThreshold  = 0.7
	DefaultRetries    = 3
	DefaultRetryDelay = 5 * time.Second
)

// ErrFetchFailed marks an observation whose fetch did not succeed.
var ErrFetchFailed = errors.New("fetch failed")

// ErrAnomalous marks an observation rejected as implausible: a zero count or
// a large unexplained drop against the last known good count. Such drops are
// far more likely scraping breakage than a real inventory collapse.
var ErrAnomalous = errors.New("anomalous observation")

// Validator classifies raw observations and drives the retry budget.
type Validator struct {
	Threshold  float64
	Retries    int
	RetryDelay time.Duration

	log *slog.Logger
}

// New creates a Validator with the default threshold and retry budget.
func New(log *slog.Logger) *Validator {
	return &Validator{
		Threshold:  DefaultThreshold,
		Retries:    DefaultRetries,
		RetryDelay: DefaultRetryDelay,
		log:        log,
	}
}

// Check classifies a single observation against the last known good count.
// A nil error means the observation is accepted.
func (v *Validator) Check(obs *model.Observation, lastGoodCount int) error {
	if obs == nil || !obs.Success {
		msg := "no observation"
		if obs != nil && obs.ErrorMessage != "" {
			msg = obs.ErrorMessage
		}
		return fmt.Errorf("%w: %s", ErrFetchFailed, msg)
	}

	if lastGoodCount <= 0 {
		return nil
	}

	count := obs.TotalCount()
	if count == 0 {
		return fmt.Errorf("%w: count dropped to 0 (last good %d)", ErrAnomalous, lastGoodCount)
	}

	threshold := v.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if float64(count) < float64(lastGoodCount)*threshold {
		return fmt.Errorf("%w: count %d below %.0f%% of last good %d",
			ErrAnomalous, count, threshold*100, lastGoodCount)
	}
	return nil
}

// FetchFunc performs one fetch attempt. Adapter faults are expected to be
// normalized into Observation{Success: false}, never panics.
type FetchFunc func(ctx context.Context) *model.Observation

// Run fetches until an observation passes Check or the retry budget is
// exhausted, backing off linearly between attempts. On exhaustion it returns
// the terminal error carrying the last rejection; the caller must record it
// as a failed check and must not overwrite the last-known-good snapshot.
func (v *Validator) Run(ctx context.Context, lastGoodCount int, fetch FetchFunc) (*model.Observation, error) {
	retries := v.Retries
	if retries < 0 {
		retries = DefaultRetries
	}
	delay := v.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	var accepted *model.Observation
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(retries), linearBackoff(delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		obs := fetch(ctx)
		if err := v.Check(obs, lastGoodCount); err != nil {
			v.log.Warn("observation rejected",
				"attempt", attempt, "last_good", lastGoodCount, "error", err)
			return retry.RetryableError(err)
		}
		accepted = obs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("validation exhausted after %d attempts: %w", attempt, err)
	}
	return accepted, nil
}

// linearBackoff waits delay, 2*delay, 3*delay, ... between attempts.
func linearBackoff(delay time.Duration) retry.Backoff {
	var n int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		return delay * time.Duration(atomic.AddInt64(&n, 1)), false
	})
}
