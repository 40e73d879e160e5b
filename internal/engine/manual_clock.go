package engine

import (
	"sort"
	"sync"
	"time"
)

// ManualClock is a Clock that only moves when Advance is called. Callbacks run
// on the goroutine calling Advance, in deadline order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*manualTimer
}

type manualTimer struct {
	clock    *ManualClock
	id       uint64
	deadline time.Time
	period   time.Duration
	fn       func()
}

// NewManualClock starts at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, timers: make(map[uint64]*manualTimer)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.add(d, 0, f)
}

func (c *ManualClock) NewTicker(d time.Duration, f func()) Timer {
	if d <= 0 {
		panic("engine: non-positive ticker period")
	}
	return c.add(d, d, f)
}

func (c *ManualClock) add(d, period time.Duration, f func()) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	c.seq++
	t := &manualTimer{clock: c, id: c.seq, deadline: c.now.Add(d), period: period, fn: f}
	c.timers[t.id] = t
	return t
}

// Pending reports how many timers are armed.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves time forward by d, firing every timer that comes due. Timers
// scheduled by callbacks fire too if their deadline falls inside the window.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDue(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.deadline
		if next.period > 0 {
			// 周期定时器保留原序号，同一时刻到期时仍按注册先后触发
			next.deadline = next.deadline.Add(next.period)
		} else {
			delete(c.timers, next.id)
		}
		fn := next.fn
		c.mu.Unlock()

		fn()
	}
}

func (c *ManualClock) nextDue(target time.Time) *manualTimer {
	due := make([]*manualTimer, 0, len(c.timers))
	for _, t := range c.timers {
		if !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

func (t *manualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.timers[t.id]; !ok {
		return false
	}
	delete(c.timers, t.id)
	return true
}
