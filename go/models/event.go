package models

import (
	"sync"
	"time"
)

type EventKind string

const (
	EvStatus             EventKind = "status"
	EvSnapshotLoading    EventKind = "snapshot:loading"
	EvSnapshotLoaded     EventKind = "snapshot:loaded"
	EvSnapshotLoadFailed EventKind = "snapshot:load-failed"
	EvBreakpointHit      EventKind = "breakpoint:hit"
	EvStepComplete       EventKind = "step:complete"
	EvCaptureStage       EventKind = "capture:stage"
	EvGuest              EventKind = "guest"
)

// Event is one entry on a backend's broadcast stream. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind     EventKind   `json:"kind"`
	Status   *StatusInfo `json:"status,omitempty"`
	Snapshot string      `json:"snapshot,omitempty"`
	Regs     *Registers  `json:"registers,omitempty"`
	Stage    string      `json:"stage,omitempty"`
	Guest    string      `json:"guest,omitempty"`
	Err      string      `json:"error,omitempty"`
	Time     time.Time   `json:"time"`
}

const subBuffer = 64

// Emitter fans events out to subscribers. Emission never blocks: a
// subscriber that falls subBuffer events behind loses its oldest entries.
// All subscribers observe events in emission order.
type Emitter struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// Subscribe returns a receive channel and a cancel func. Cancel closes the
// channel; it is safe to call more than once.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]chan Event)
	}
	id := e.next
	e.next++
	ch := make(chan Event, subBuffer)
	e.subs[id] = ch
	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (e *Emitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// full: shed the oldest entry and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *Emitter) EmitStatus(info StatusInfo) {
	e.Emit(Event{Kind: EvStatus, Status: &info})
}

func (e *Emitter) EmitSnapshot(kind EventKind, name string, err error) {
	ev := Event{Kind: kind, Snapshot: name}
	if err != nil {
		ev.Err = err.Error()
	}
	e.Emit(ev)
}
