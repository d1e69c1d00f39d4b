package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cd := NewCooldown(4200 * time.Millisecond)
	cd.now = func() time.Time { return now }

	assert.False(t, cd.Active(), "fresh cooldown must be inactive")

	cd.Trigger()
	assert.True(t, cd.Active())

	now = now.Add(4 * time.Second)
	assert.True(t, cd.Active(), "still inside the window")

	now = now.Add(300 * time.Millisecond)
	assert.False(t, cd.Active(), "window expired")
}

func TestCooldownDefaultWindow(t *testing.T) {
	cd := NewCooldown(0)
	assert.Equal(t, DefaultRateLimitCooldown, cd.window)
}
