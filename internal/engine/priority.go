package engine

import "time"

// assignPrioritiesLocked draws a priority for every open order of the epoch
// that has none yet and returns how many were assigned. Orders that already
// carry a priority are left alone, so repeated calls are harmless.
// Assignment stamps are strictly increasing within one pass.
func (e *Engine) assignPrioritiesLocked(epochID string) int {
	ep := e.epochs[epochID]
	if ep == nil {
		return 0
	}
	now := e.clock.Now()
	var last time.Time
	n := 0
	for _, o := range e.epochOrdersLocked(ep) {
		if o.Priority != nil {
			continue
		}
		if o.Status != OrderInBlock && o.Status != OrderMatching {
			continue
		}
		p := e.rand.Priority(e.cfg.PriorityMin, e.cfg.PriorityMax)
		at := now
		if !at.After(last) {
			at = last.Add(time.Nanosecond)
		}
		last = at
		o.Priority = &p
		o.PriorityAssignedAt = at
		n++
	}
	return n
}
