package hal

import (
	"context"
	"sync"
)

// Simulator is an in-memory device layer for bring-up and testing.
//
// Signals start in the safe-bench configuration (deadman released, all other
// interlocks clear, zero optical power). Commands are recorded and the laser
// power command is mirrored into the optical power signal so the monitor's
// power-verification path behaves as it would against real hardware.
//
// Thread Safety: all methods are safe for concurrent use.
type Simulator struct {
	mu       sync.RWMutex
	signals  map[SignalID]SignalValue
	sigErr   map[SignalID]error
	commands []IssuedCommand
	sendErr  map[DeviceID]error
	mirror   bool
}

// IssuedCommand records one command sent through the simulator.
type IssuedCommand struct {
	Device  DeviceID
	Command Command
}

// NewSimulator creates a simulator in the safe-bench state.
func NewSimulator() *Simulator {
	return &Simulator{
		signals: map[SignalID]SignalValue{
			SignalDeadman:         {Asserted: false},
			SignalBeamConditioner: {Asserted: true},
			SignalOpticalPower:    {Raw: 0},
			SignalSessionValid:    {Asserted: true},
			SignalVisualFeed:      {Asserted: true},
			SignalEStopClear:      {Asserted: true},
		},
		sigErr:  make(map[SignalID]error),
		sendErr: make(map[DeviceID]error),
		mirror:  true,
	}
}

// ReadSignal implements SignalReader.
func (s *Simulator) ReadSignal(ctx context.Context, id SignalID) (SignalValue, error) {
	if err := ctx.Err(); err != nil {
		return SignalValue{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.sigErr[id]; ok && err != nil {
		return SignalValue{}, err
	}
	v, ok := s.signals[id]
	if !ok {
		return SignalValue{}, ErrUnknownSignal
	}
	return v, nil
}

// Send implements CommandSender.
func (s *Simulator) Send(ctx context.Context, dev DeviceID, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.sendErr[dev]; ok && err != nil {
		return err
	}

	s.commands = append(s.commands, IssuedCommand{Device: dev, Command: cmd})

	// Mirror laser commands into the power sensor so monitor verification
	// sees a consistent loop.
	if s.mirror && dev == DeviceLaser {
		switch c := cmd.(type) {
		case LaserPower:
			s.signals[SignalOpticalPower] = SignalValue{Raw: c.Watts}
		case LaserDisable:
			s.signals[SignalOpticalPower] = SignalValue{Raw: 0}
		}
	}

	return nil
}

// SetSignal sets a signal value for subsequent reads.
func (s *Simulator) SetSignal(id SignalID, v SignalValue) {
	s.mu.Lock()
	s.signals[id] = v
	s.mu.Unlock()
}

// SetSignalError makes reads of a signal fail. Pass nil to clear.
func (s *Simulator) SetSignalError(id SignalID, err error) {
	s.mu.Lock()
	s.sigErr[id] = err
	s.mu.Unlock()
}

// SetSendError makes commands to a device fail. Pass nil to clear.
func (s *Simulator) SetSendError(dev DeviceID, err error) {
	s.mu.Lock()
	s.sendErr[dev] = err
	s.mu.Unlock()
}

// SetMirror controls whether laser commands are mirrored into the optical
// power signal. Disable it to simulate sensor/commanded divergence.
func (s *Simulator) SetMirror(on bool) {
	s.mu.Lock()
	s.mirror = on
	s.mu.Unlock()
}

// Commands returns a copy of every command issued so far.
func (s *Simulator) Commands() []IssuedCommand {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cpy := make([]IssuedCommand, len(s.commands))
	copy(cpy, s.commands)
	return cpy
}

// LastCommand returns the most recent command for a device, or false if none.
func (s *Simulator) LastCommand(dev DeviceID) (Command, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.commands) - 1; i >= 0; i-- {
		if s.commands[i].Device == dev {
			return s.commands[i].Command, true
		}
	}
	return nil, false
}
