package runner

import (
	"fmt"
	"time"
)

const (
	heartbeatInterval = 5 * time.Second
	heartbeatMaxTicks = 10
)

// RunWithHeartbeat runs fn while emitting synthetic progress ticks, so
// long external commands (install, bundle, Gradle) keep the status surface
// fresh. One tick every five seconds, percent advancing within
// [startPct, endPct) and capped after ten increments; later ticks keep the
// capped percent but refresh the elapsed-time message. The ticker stops
// when fn returns. Real progress written afterwards overrides the
// synthetic values (the store clamps regressions).
func RunWithHeartbeat(progress func(message string, percent int), message string, startPct, endPct int, fn func() error) error {
	return runWithHeartbeat(progress, message, startPct, endPct, heartbeatInterval, fn)
}

func runWithHeartbeat(progress func(message string, percent int), message string, startPct, endPct int, interval time.Duration, fn func() error) error {
	if progress == nil {
		return fn()
	}

	start := time.Now()
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if tick < heartbeatMaxTicks {
					tick++
				}
				pct := startPct + (endPct-startPct)*tick/(heartbeatMaxTicks+2)
				elapsed := int(time.Since(start).Seconds())
				progress(fmt.Sprintf("%s (%ds)", message, elapsed), pct)
			}
		}
	}()

	err := fn()
	close(done)
	<-stopped
	return err
}
