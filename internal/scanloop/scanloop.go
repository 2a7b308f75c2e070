// Package scanloop runs periodic sweeps, jittered so that the health
// monitor and the reroute engine never settle into lockstep with each
// other or with external cron jobs.
package scanloop

import (
	"math/rand/v2"
	"time"
)

// Run calls fn every interval plus random([0, jitter)) until stopCh is
// closed. The first call waits a full period; callers that need an
// immediate sweep run one before starting the loop.
func Run(stopCh <-chan struct{}, interval, jitter time.Duration, fn func()) {
	if interval <= 0 {
		interval = time.Second
	}
	if jitter < 0 {
		jitter = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain the initial fire

	for {
		wait := interval
		if jitter > 0 {
			wait += time.Duration(rand.Int64N(int64(jitter)))
		}
		timer.Reset(wait)

		select {
		case <-stopCh:
			return
		case <-timer.C:
			fn()
		}
	}
}
