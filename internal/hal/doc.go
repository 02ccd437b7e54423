// Package hal defines the hardware abstraction contract between the safety
// core and the vendor device drivers.
//
// The core never speaks a vendor wire protocol. It reads interlock signals
// through SignalReader, issues typed commands through CommandSender, and
// takes time from Clock. Commands are tagged variants per device kind so an
// invalid command/device pairing fails at compile time rather than at the
// hardware.
//
// A Simulator implementation is included for bring-up and testing; real
// deployments plug in driver-backed implementations of the same interfaces.
package hal
