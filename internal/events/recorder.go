package events

import (
	"github.com/photarc/lumacore/internal/hal"
	"github.com/photarc/lumacore/internal/safety"
)

// Recorder adapts the dispatcher to the safety authority's recorder
// contract. Publishing is non-blocking, so the authority's fault path
// never waits on a slow sink.
type Recorder struct {
	dispatcher *Dispatcher
	clock      hal.Clock
}

// NewRecorder creates a recorder publishing into the given dispatcher.
func NewRecorder(d *Dispatcher, clock hal.Clock) *Recorder {
	return &Recorder{dispatcher: d, clock: clock}
}

// StateChanged implements safety.EventRecorder.
func (r *Recorder) StateChanged(rec safety.TransitionRecord) {
	r.dispatcher.Publish(FromTransition(rec))
}

// FaultRaised implements safety.EventRecorder.
func (r *Recorder) FaultRaised(rec safety.FaultRecord) {
	r.dispatcher.Publish(FromFault(rec))
}

// AdvisoryRaised implements safety.EventRecorder.
func (r *Recorder) AdvisoryRaised(sig hal.SignalID, detail string) {
	r.dispatcher.Publish(NewAdvisory(sig, detail, r.clock.Wall(), r.clock.Monotonic()))
}
