package events

import (
	"sync"

	"github.com/local/bboxviewer/internal/viewer"
)

// Recorder keeps events in memory.
type Recorder struct {
	viewer.Observer

	mu     sync.Mutex
	events []Event
}

// NewRecorder returns a Recorder whose events carry session.
func NewRecorder(session string) *Recorder {
	r := &Recorder{}
	r.Observer = newAdapter(session, r.add)
	return r
}

func (r *Recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
