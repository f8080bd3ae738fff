package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// The breaker opens exactly when a run of consecutive failures reaches the threshold.
func TestProperty_CircuitBreakerOpensOnConsecutiveFailures(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("open iff a failure run reached the threshold", prop.ForAll(
		func(threshold int, outcomes []bool) bool {
			cb := NewCircuitBreaker(threshold, time.Hour)
			run := 0
			opened := false
			for _, ok := range outcomes {
				if opened {
					if !errors.Is(cb.Execute(passing), ErrCircuitBreakerOpen) {
						return false
					}
					continue
				}
				if ok {
					_ = cb.Execute(passing)
					run = 0
				} else {
					_ = cb.Execute(failing)
					run++
				}
				opened = run >= threshold
				if (cb.GetState() == StateOpen) != opened {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestProperty_CircuitBreakerThreadSafety(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent executions never corrupt state", prop.ForAll(
		func(workers int, calls int) bool {
			cb := NewCircuitBreaker(3, time.Millisecond)
			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < calls; i++ {
						if (w+i)%2 == 0 {
							_ = cb.Execute(failing)
						} else {
							_ = cb.Execute(passing)
						}
					}
				}(w)
			}
			wg.Wait()
			state := cb.GetState()
			return state == StateClosed || state == StateOpen || state == StateHalfOpen
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
