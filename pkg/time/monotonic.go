package time

import "time"

// clock provides monotonic time since it was started
// time.Since uses the monotonic reading under the hood, so wall clock
// adjustments never shorten or stretch a wait
type Clock struct {
	startTime time.Time
}

func NewClock() *Clock {
	return &Clock{
		startTime: time.Now(),
	}
}

// duration since the clock was started
func (c *Clock) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// reports whether more than limit has elapsed
func (c *Clock) Exceeded(limit time.Duration) bool {
	return c.Elapsed() > limit
}

// restarts the clock from now
func (c *Clock) Reset() {
	c.startTime = time.Now()
}
