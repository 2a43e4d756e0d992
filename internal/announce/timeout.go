package announce

import "time"

const (
	defaultPerMessageTimeout = 2 * time.Second
	minPerMessageTimeout     = 10 * time.Millisecond
)

func timeUntil(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < minPerMessageTimeout {
		return minPerMessageTimeout
	}
	return d
}
