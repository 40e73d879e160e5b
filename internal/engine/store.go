package engine

import (
	"fmt"

	"go.uber.org/zap"
)

// Subscriber receives a snapshot after every observable mutation. Each
// subscriber gets its own copy. Snapshots from concurrent mutations may arrive
// out of order; compare Version to drop stale ones.
type Subscriber func(EngineState)

type subscription struct {
	id uint64
	fn Subscriber
}

// Subscribe registers fn and returns a function that removes it. Callbacks run
// in registration order; a panicking callback is recovered and does not stop
// delivery to the others.
func (e *Engine) Subscribe(fn Subscriber) (unsubscribe func()) {
	e.subMu.Lock()
	e.subSeq++
	id := e.subSeq
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns a copy of the engine state that callers may keep.
func (e *Engine) Snapshot() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// commitLocked bumps the state version and captures the snapshot to publish.
func (e *Engine) commitLocked() EngineState {
	e.version++
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() EngineState {
	s := EngineState{
		Version:        e.version,
		Running:        e.running,
		Config:         e.cfg,
		CurrentEpochID: e.currentEpochID,
		Epochs:         make(map[string]Epoch, len(e.epochs)),
		Blocks:         make(map[string]Block, len(e.blocks)),
		Orders:         make(map[string]Order, len(e.orders)),
		Progress:       e.progress,
	}
	for id, ep := range e.epochs {
		s.Epochs[id] = ep.clone()
	}
	for id, b := range e.blocks {
		s.Blocks[id] = b.clone()
	}
	for id, o := range e.orders {
		s.Orders[id] = o.clone()
	}
	return s
}

func (e *Engine) notify(state EngineState) {
	e.subMu.Lock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.subMu.Unlock()

	for i, s := range subs {
		// 每个订阅者拿到独立副本，最后一个直接使用原快照
		st := state
		if i < len(subs)-1 {
			st = state.clone()
		}
		e.deliver(s, st)
	}
}

func (s EngineState) clone() EngineState {
	out := s
	out.Epochs = make(map[string]Epoch, len(s.Epochs))
	out.Blocks = make(map[string]Block, len(s.Blocks))
	out.Orders = make(map[string]Order, len(s.Orders))
	for id, ep := range s.Epochs {
		out.Epochs[id] = ep.clone()
	}
	for id, b := range s.Blocks {
		out.Blocks[id] = b.clone()
	}
	for id, o := range s.Orders {
		out.Orders[id] = o.clone()
	}
	return out
}

func (e *Engine) deliver(s subscription, state EngineState) {
	defer func() {
		if r := recover(); r != nil {
			e.mon.RecordSubscriberPanic()
			e.log.Error("subscriber panicked",
				zap.Uint64("subscriber", s.id),
				zap.Uint64("version", state.Version),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	s.fn(state)
}
