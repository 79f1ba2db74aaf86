package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActorLimiterIsPerKey(t *testing.T) {
	l := NewActorLimiter(0.001, 2)

	assert.True(t, l.Allow("id:1"))
	assert.True(t, l.Allow("id:1"))
	assert.False(t, l.Allow("id:1"))

	assert.True(t, l.Allow("ip:192.0.2.1"), "other callers keep their own bucket")
}

func TestActorLimiterEvictsRefilledBuckets(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewActorLimiter(1, 2)
	l.now = func() time.Time { return clock }
	l.lastSweep = clock

	for i := 0; i < 500; i++ {
		assert.True(t, l.Allow(fmt.Sprintf("ip:198.51.100.%d", i)))
	}
	assert.True(t, l.Allow("id:busy"))
	assert.True(t, l.Allow("id:busy"))
	assert.Equal(t, 501, l.Len())

	clock = clock.Add(limiterSweepInterval)
	// busy drains its bucket again a second before the sweep
	assert.True(t, l.limiters["id:busy"].AllowN(clock.Add(-time.Second), 2))

	assert.True(t, l.Allow("id:other"))
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Allow("id:busy"))
	assert.False(t, l.Allow("id:busy"), "a drained bucket survives the sweep")
}
