// Package safety implements the authority that gates laser emission.
//
// The authority owns the operating state machine and the latest interlock
// snapshot. Emission permission is positive: it requires the Treating
// state plus a fresh snapshot with every signal affirmatively ok, so "no
// data" can never read as safe. Every fault path ends with the hardware
// commanded off, exactly one immutable FaultRecord per episode, and
// recovery gated behind explicit supervisor action.
package safety
