// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts is the number of attempts before giving up.
	DefaultMaxAttempts = 60
	// DefaultBaseDelay is the first backoff delay after a conflict.
	DefaultBaseDelay = 2 * time.Millisecond
	// DefaultMaxDelay caps the backoff delay.
	DefaultMaxDelay = 200 * time.Millisecond

	jitterPercent = 25
)

var errTxnConflict = errors.New("txn conditions not satisfied")

// TxnRetryMaxTimesError is returned when every attempt of an operation lost
// a conflict. Nothing was committed.
type TxnRetryMaxTimesError struct {
	Op    string
	Times uint64
}

func (e *TxnRetryMaxTimesError) Error() string {
	return fmt.Sprintf("txn %s: still conflicting after %d attempts", e.Op, e.Times)
}

// Attempt is one optimistic try: read, validate, build and submit. It
// returns committed=false when the transaction conditions failed; any
// error aborts the operation.
//
// An attempt must re-read every value its conditions depend on. Only values
// deliberately hoisted out of the closure, like allocated ids, may survive
// from one attempt to the next.
type Attempt func(ctx context.Context) (committed bool, err error)

// Retryer drives attempts with jittered exponential backoff.
type Retryer struct {
	maxAttempts uint64
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryer creates a Retryer. Zero values select the defaults.
func NewRetryer(maxAttempts uint64, baseDelay, maxDelay time.Duration) *Retryer {
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay == 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}
	return &Retryer{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// DefaultRetryer returns a Retryer with default settings.
func DefaultRetryer() *Retryer {
	return NewRetryer(0, 0, 0)
}

// MaxAttempts returns the attempt limit.
func (r *Retryer) MaxAttempts() uint64 {
	return r.maxAttempts
}

func (r *Retryer) backoff() retry.Backoff {
	b := retry.NewExponential(r.baseDelay)
	b = retry.WithCappedDuration(r.maxDelay, b)
	b = retry.WithJitterPercent(jitterPercent, b)
	return retry.WithMaxRetries(r.maxAttempts-1, b)
}

// Run executes attempt until it commits, fails, the context is done or the
// attempts are exhausted.
func (r *Retryer) Run(ctx context.Context, op string, attempt Attempt) error {
	var attempts uint64
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempts++
		committed, err := attempt(ctx)
		if err != nil {
			return err
		}
		if !committed {
			log.Debug("txn conflict, retry",
				zap.String("op", op),
				zap.Uint64("attempt", attempts))
			return retry.RetryableError(errTxnConflict)
		}
		return nil
	})
	txnAttempts.WithLabelValues(op).Observe(float64(attempts))
	if err == errTxnConflict {
		txnRetryExhausted.WithLabelValues(op).Inc()
		log.Warn("txn retry exhausted", zap.String("op", op), zap.Uint64("attempts", attempts))
		return &TxnRetryMaxTimesError{Op: op, Times: attempts}
	}
	return err
}
