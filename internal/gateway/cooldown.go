package gateway

import "time"

// DefaultRateLimitCooldown is the interval during which place requests are
// rejected locally after the exchange signals rate limiting. Empirically
// tuned; override per gateway via Config.RateLimitCooldown.
const DefaultRateLimitCooldown = 4200 * time.Millisecond

// Cooldown tracks the rate-limit state of one gateway. It lives inside a
// single gateway goroutine context and needs no locking.
type Cooldown struct {
	window time.Duration
	until  time.Time
	now    func() time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	if window <= 0 {
		window = DefaultRateLimitCooldown
	}
	return &Cooldown{window: window, now: time.Now}
}

// Trigger starts (or restarts) the cooldown window.
func (c *Cooldown) Trigger() {
	c.until = c.now().Add(c.window)
}

// Active reports whether new place requests must be rejected locally.
func (c *Cooldown) Active() bool {
	return c.now().Before(c.until)
}
