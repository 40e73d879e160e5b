package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClockFiresInDeadlineOrder(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewManualClock(start)
	var got []string

	c.AfterFunc(30*time.Millisecond, func() { got = append(got, "c") })
	c.AfterFunc(10*time.Millisecond, func() { got = append(got, "a") })
	c.AfterFunc(10*time.Millisecond, func() { got = append(got, "b") })

	c.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, start.Add(20*time.Millisecond), c.Now())

	c.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Zero(t, c.Pending())
}

func TestManualClockTicker(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	var at []time.Duration
	start := c.Now()
	tk := c.NewTicker(100*time.Millisecond, func() { at = append(at, c.Now().Sub(start)) })

	c.Advance(350 * time.Millisecond)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, at)

	assert.True(t, tk.Stop())
	assert.False(t, tk.Stop())
	c.Advance(time.Second)
	assert.Len(t, at, 3)
}

func TestManualClockCallbackSchedulesInsideWindow(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	fired := 0
	c.AfterFunc(10*time.Millisecond, func() {
		c.AfterFunc(5*time.Millisecond, func() { fired++ })
		c.AfterFunc(50*time.Millisecond, func() { fired++ })
	})

	c.Advance(20 * time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, c.Pending())
}

func TestManualClockStopFromCallback(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	ticks := 0
	var tk Timer
	tk = c.NewTicker(10*time.Millisecond, func() {
		ticks++
		if ticks == 2 {
			tk.Stop()
		}
	})
	c.Advance(100 * time.Millisecond)
	assert.Equal(t, 2, ticks)
}

func TestManualClockTickerKeepsRegistrationOrder(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	var got []string
	c.NewTicker(100*time.Millisecond, func() { got = append(got, "tick") })
	c.Advance(200 * time.Millisecond)

	// 与节拍同一时刻到期，但注册更晚
	c.AfterFunc(100*time.Millisecond, func() { got = append(got, "close") })
	c.Advance(100 * time.Millisecond)

	assert.Equal(t, []string{"tick", "tick", "tick", "close"}, got)
}
