// Package lock serializes operations on cards.
//
// Every mutation of a card (transfer legs, block, activate, delete) runs
// while holding an exclusive lock on that card id. Multiple keys are always
// acquired in ascending order so two transfers moving funds in opposite
// directions between the same pair of cards cannot deadlock. Acquisition is
// bounded: each attempt has a timeout, attempts are retried with exponential
// backoff and full jitter, and exhaustion surfaces as errors.ErrContention.
package lock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"time"

	"cardvault/internal/errors"
)

// Release frees locks obtained from Acquire. It is safe to call more than once.
type Release func()

// Locker acquires exclusive locks on a set of keys.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (Release, error)
}

// Options configures acquisition limits.
type Options struct {
	// Timeout bounds a single acquisition attempt.
	Timeout time.Duration
	// MaxAttempts is the number of attempts before giving up.
	MaxAttempts int
	// BackoffBase is the base delay between attempts, doubled per attempt.
	BackoffBase time.Duration
}

// DefaultOptions returns the limits used when none are configured.
func DefaultOptions() Options {
	return Options{
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BackoffBase: 50 * time.Millisecond,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BackoffBase < 0 {
		o.BackoffBase = 0
	}
	return o
}

// sortedUnique returns keys in ascending order without duplicates.
func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// retry runs attempt up to opts.MaxAttempts times. attempt returns
// (release, nil) on success, (nil, errBusy) when the locks were busy, or any
// other error to stop immediately.
func retry(ctx context.Context, opts Options, keys []string, attempt func(context.Context) (Release, error)) (Release, error) {
	for n := 0; n < opts.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		release, err := attempt(attemptCtx)
		cancel()
		if err == nil {
			return release, nil
		}
		if err != errBusy {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if n < opts.MaxAttempts-1 {
			if err := sleep(ctx, backoffDelay(opts.BackoffBase, n)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %d attempts on %v", errors.ErrContention, opts.MaxAttempts, keys)
}

var errBusy = fmt.Errorf("lock busy")

// backoffDelay returns a random duration in [0, base*2^attempt).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 16 {
		attempt = 16
	}
	ceiling := int64(base) << attempt
	n, err := rand.Int(rand.Reader, big.NewInt(ceiling))
	if err != nil {
		return time.Duration(ceiling / 2)
	}
	return time.Duration(n.Int64())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
