package gather

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Timings collects every wait the orchestrator and the deploy macro make
type Timings struct {
	TapSettle       time.Duration `mapstructure:"tap_settle"        yaml:"tap_settle"`        // after an ordinary tap
	PanelOpen       time.Duration `mapstructure:"panel_open"        yaml:"panel_open"`        // after opening the march queue panel
	SearchOpen      time.Duration `mapstructure:"search_open"       yaml:"search_open"`       // after opening the resource search
	Scroll          time.Duration `mapstructure:"scroll"            yaml:"scroll"`            // after a swipe of the resource list
	SearchResult    time.Duration `mapstructure:"search_result"     yaml:"search_result"`     // after pressing search at a level
	DeploySettle    time.Duration `mapstructure:"deploy_settle"     yaml:"deploy_settle"`     // after confirming a deploy
	WorldViewPoll   time.Duration `mapstructure:"world_view_poll"   yaml:"world_view_poll"`   // between full world-view checks
	WorldViewChecks int           `mapstructure:"world_view_checks" yaml:"world_view_checks"` // bounded full verification loop
	SliderTaps      int           `mapstructure:"slider_taps"       yaml:"slider_taps"`       // increment taps to max the amount slider

	LongCooldown  time.Duration `mapstructure:"long_cooldown"  yaml:"long_cooldown"`  // after a cycle that deployed
	ShortCooldown time.Duration `mapstructure:"short_cooldown" yaml:"short_cooldown"` // after a cycle with nothing to do
	CycleBackoff  RetryPolicy   `mapstructure:"cycle_backoff"  yaml:"cycle_backoff"`  // between failed cycles

	MarchEstimate  time.Duration `mapstructure:"march_estimate"  yaml:"march_estimate"`  // when march time OCR fails
	GatherEstimate time.Duration `mapstructure:"gather_estimate" yaml:"gather_estimate"` // until precise time is read
	MaxMarchTime   time.Duration `mapstructure:"max_march_time"  yaml:"max_march_time"`  // longer OCR readings are implausible
}

// DefaultTimings returns the delays used in production
func DefaultTimings() Timings {
	return Timings{
		TapSettle:       800 * time.Millisecond,
		PanelOpen:       2 * time.Second,
		SearchOpen:      1500 * time.Millisecond,
		Scroll:          time.Second,
		SearchResult:    2 * time.Second,
		DeploySettle:    2 * time.Second,
		WorldViewPoll:   2 * time.Second,
		WorldViewChecks: 5,
		SliderTaps:      8,

		LongCooldown:  5 * time.Minute,
		ShortCooldown: 30 * time.Second,
		CycleBackoff: RetryPolicy{
			Attempts:      0,
			InitialDelay:  10 * time.Second,
			MaxDelay:      5 * time.Minute,
			BackoffFactor: 2.0,
		},

		MarchEstimate:  5 * time.Minute,
		GatherEstimate: 2 * time.Hour,
		MaxMarchTime:   2 * time.Hour,
	}
}

// RetryPolicy is a bounded exponential backoff
type RetryPolicy struct {
	Attempts      int           `mapstructure:"attempts"       yaml:"attempts"`       // total tries; 0 means unbounded where that makes sense
	InitialDelay  time.Duration `mapstructure:"initial_delay"  yaml:"initial_delay"`  // wait after the first failure
	MaxDelay      time.Duration `mapstructure:"max_delay"      yaml:"max_delay"`      // backoff ceiling
	BackoffFactor float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"` // multiplier per failure
}

// DefaultDeviceRetry covers transient adb failures
func DefaultDeviceRetry() RetryPolicy {
	return RetryPolicy{
		Attempts:      3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Delay returns the wait after the given number of consecutive failures (1-based)
func (p RetryPolicy) Delay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(factor, float64(failures-1)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds or attempts are exhausted. Context
// cancellation between attempts ends the loop with the last error.
func (p RetryPolicy) Do(ctx context.Context, sleep Sleeper, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		if serr := sleep(ctx, p.Delay(i)); serr != nil {
			return fmt.Errorf("%w (retry interrupted: %v)", err, serr)
		}
	}
	if attempts > 1 {
		return fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return err
}
