// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/kusari-oss/remedy/internal/core/models"
)

// Retry strategies
const (
	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

// RetryPolicy shapes the delay between attempts of one action. The action's
// own retry delay is always the first interval and its retry count the
// number of extra attempts.
type RetryPolicy struct {
	Strategy   string
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryPolicy waits the action's retry delay between every attempt
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Strategy: StrategyFixed}
}

// BackOff returns the backoff for a's retries
func (p RetryPolicy) BackOff(a *models.RemediationAction, clk clock.Clock) backoff.BackOff {
	var b backoff.BackOff
	switch p.Strategy {
	case StrategyExponential:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = a.RetryDelay()
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		if p.Multiplier >= 1 {
			eb.Multiplier = p.Multiplier
		}
		if p.MaxDelay > 0 {
			eb.MaxInterval = p.MaxDelay
		}
		if clk != nil {
			eb.Clock = clk
		}
		eb.Reset()
		b = eb
	default:
		b = backoff.NewConstantBackOff(a.RetryDelay())
	}
	return backoff.WithMaxRetries(b, uint64(a.RetryCount))
}

// clockTimer lets backoff sleep on the executor's clock
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	t.timer = t.clock.Timer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
