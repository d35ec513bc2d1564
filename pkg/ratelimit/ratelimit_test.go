package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter(t *testing.T) {
	l := NewLimiter(5, 5*time.Second)
	assert.Equal(t, time.Duration(0), round(l.Reserve(1000, 1)))
	assert.Equal(t, time.Duration(0), round(l.Reserve(1000, 5)))
	assert.Equal(t, 5000*time.Millisecond, round(l.Reserve(1000, 5)))
	assert.Equal(t, 10000*time.Millisecond, round(l.Reserve(1000, 5)))
	assert.Equal(t, 10000*time.Millisecond, round(l.Reserve(1001, 0)))
	assert.Equal(t, 10000*time.Millisecond, round(l.Reserve(1002, 0)))
	assert.Equal(t, 10000*time.Millisecond, round(l.Reserve(1003, 0)))
	assert.Equal(t, 10000*time.Millisecond, round(l.Reserve(1004, 0)))
	assert.Equal(t, 10000*time.Millisecond, round(l.Reserve(1005, 0)))
	assert.Equal(t, 7000*time.Millisecond, round(l.Reserve(1006, 0)))
	assert.Equal(t, 3999*time.Millisecond, round(l.Reserve(1007, 0)))
	assert.Equal(t, 3999*time.Millisecond, round(l.Reserve(1008, 3)))
	assert.Equal(t, 1000*time.Millisecond, round(l.Reserve(1009, 0)))
	assert.Equal(t, 0*time.Millisecond, round(l.Reserve(1010, 0)))
}

func TestLimiterSubSecondWindow(t *testing.T) {
	l := NewLimiter(10, 100*time.Millisecond)
	assert.Equal(t, int64(1), l.window)
}

func round(dur time.Duration) time.Duration {
	return dur - (dur % time.Millisecond)
}
