package interlock

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/photarc/lumacore/internal/hal"
)

// Logger defines the logging interface the monitor requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Config holds monitor tuning parameters.
type Config struct {
	// SampleInterval is the period between full signal sweeps.
	SampleInterval time.Duration

	// SignalReadTimeout bounds each individual hardware read.
	SignalReadTimeout time.Duration

	// DebounceCount is the number of consecutive ok reads required
	// before a signal recovers from fault or unknown. Transitions
	// into fault take effect on the first read.
	DebounceCount int

	// PowerWarnBand is the relative deviation between measured and
	// commanded power that triggers an advisory.
	PowerWarnBand float64

	// PowerFaultBand is the relative deviation that constitutes a fault.
	PowerFaultBand float64

	// PowerZeroToleranceWatts is the measured power above which emission
	// is considered present when nothing is commanded.
	PowerZeroToleranceWatts float64
}

// Advisory describes a non-fault observation worth surfacing, such as
// measured power drifting into the warning band.
type Advisory struct {
	Signal hal.SignalID
	Detail string
}

// Monitor polls the hardware interlock signals and produces Status
// snapshots. Any read failure or timeout is reported as a fault on the
// affected signal rather than an error from the sampling call.
type Monitor struct {
	reader    hal.SignalReader
	clock     hal.Clock
	cfg       Config
	cal       *Calibration
	commanded func() float64
	log       Logger

	mu       sync.Mutex
	debounce map[hal.SignalID]*debounceState
	sequence uint64
	latest   Status

	onAdvisory func(Advisory)

	stopOnce sync.Once
	done     chan struct{}
}

// debounceState tracks the recovery counter for one signal.
type debounceState struct {
	published SignalState
	okStreak  int
}

// Option configures optional monitor behaviour.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(log Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithAdvisoryHandler registers a callback invoked whenever the monitor
// observes an advisory condition. The callback runs on the sampling
// goroutine and must not block.
func WithAdvisoryHandler(fn func(Advisory)) Option {
	return func(m *Monitor) { m.onAdvisory = fn }
}

// NewMonitor creates an interlock monitor.
//
// Parameters:
//   - reader: hardware signal source
//   - clock: monotonic time source
//   - cfg: sampling and tolerance parameters
//   - cal: optical power calibration curve
//   - commanded: returns the currently commanded laser power in watts
//
// Returns:
//   - *Monitor: the configured monitor
//   - error: if reader or clock is nil
func NewMonitor(reader hal.SignalReader, clock hal.Clock, cfg Config, cal *Calibration, commanded func() float64, opts ...Option) (*Monitor, error) {
	if reader == nil {
		return nil, ErrNoReader
	}
	if clock == nil {
		return nil, fmt.Errorf("interlock: clock is required")
	}
	if cal == nil {
		cal = NewCalibration(nil)
	}
	if commanded == nil {
		commanded = func() float64 { return 0 }
	}
	if cfg.DebounceCount < 1 {
		cfg.DebounceCount = 1
	}

	m := &Monitor{
		reader:    reader,
		clock:     clock,
		cfg:       cfg,
		cal:       cal,
		commanded: commanded,
		log:       noopLogger{},
		debounce:  make(map[hal.SignalID]*debounceState),
		done:      make(chan struct{}),
	}
	for _, sig := range hal.AllSignals() {
		m.debounce[sig] = &debounceState{published: StateUnknown}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Sample performs one full sweep of all interlock signals and returns
// the resulting snapshot. The snapshot is also retained as the latest
// status. Sample never returns a hardware error; failed reads surface
// as faulted signals in the snapshot.
func (m *Monitor) Sample(ctx context.Context) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	status := Status{
		Sequence:  m.sequence,
		SampledAt: m.clock.Monotonic(),
		WallTime:  m.clock.Wall(),
	}

	commandedW := m.commanded()
	status.CommandedWatts = commandedW

	for _, sig := range hal.AllSignals() {
		reading, raw := m.readSignal(ctx, sig)
		if sig == hal.SignalOpticalPower {
			if reading.State == StateOK {
				status.MeasuredWatts = m.cal.Watts(raw)
				reading = m.verifyPower(status.MeasuredWatts, commandedW, &status)
			}
			// Power verification faults bypass recovery debounce on
			// the way in like every other fault.
		}
		debounced := m.applyDebounce(sig, reading)
		status.setSignal(sig, debounced)
	}

	m.latest = status
	return status
}

// readSignal performs one bounded hardware read and classifies the result.
func (m *Monitor) readSignal(ctx context.Context, sig hal.SignalID) (Reading, float64) {
	readCtx := ctx
	if m.cfg.SignalReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, m.cfg.SignalReadTimeout)
		defer cancel()
	}

	val, err := m.reader.ReadSignal(readCtx, sig)
	if err != nil {
		m.log.Warn("interlock signal read failed", "signal", string(sig), "error", err)
		return Reading{State: StateFault, Detail: fmt.Sprintf("read failed: %v", err), ReadError: true}, 0
	}
	// Optical power is analog; assertion only applies to binary signals.
	if sig != hal.SignalOpticalPower && !val.Asserted {
		return Reading{State: StateFault, Detail: "signal not asserted"}, val.Raw
	}
	return Reading{State: StateOK}, val.Raw
}

// verifyPower checks measured emission against the commanded level.
// With nothing commanded, any measurable emission is a fault. With power
// commanded, relative deviation beyond the fault band is a fault and
// deviation beyond the warn band raises an advisory.
func (m *Monitor) verifyPower(measured, commanded float64, status *Status) Reading {
	if commanded <= m.cfg.PowerZeroToleranceWatts {
		if measured > m.cfg.PowerZeroToleranceWatts {
			status.UncommandedEmission = true
			return Reading{
				State:  StateFault,
				Detail: fmt.Sprintf("emission detected with no power commanded: %.2f W", measured),
			}
		}
		return Reading{State: StateOK}
	}

	deviation := math.Abs(measured-commanded) / commanded
	switch {
	case deviation > m.cfg.PowerFaultBand:
		return Reading{
			State: StateFault,
			Detail: fmt.Sprintf("measured %.2f W deviates %.0f%% from commanded %.2f W",
				measured, deviation*100, commanded),
		}
	case deviation > m.cfg.PowerWarnBand:
		if m.onAdvisory != nil {
			m.onAdvisory(Advisory{
				Signal: hal.SignalOpticalPower,
				Detail: fmt.Sprintf("measured %.2f W deviates %.0f%% from commanded %.2f W",
					measured, deviation*100, commanded),
			})
		}
	}
	return Reading{State: StateOK}
}

// applyDebounce filters a raw reading through the per-signal debounce
// state. Faults publish immediately; recovery to ok requires the
// configured number of consecutive ok reads.
func (m *Monitor) applyDebounce(sig hal.SignalID, raw Reading) Reading {
	st := m.debounce[sig]

	if raw.State != StateOK {
		st.okStreak = 0
		st.published = raw.State
		return raw
	}

	st.okStreak++
	if st.published == StateOK {
		return raw
	}
	if st.okStreak >= m.cfg.DebounceCount {
		st.published = StateOK
		m.log.Info("interlock signal recovered", "signal", string(sig))
		return raw
	}
	return Reading{
		State:  st.published,
		Detail: fmt.Sprintf("recovering (%d/%d consecutive ok reads)", st.okStreak, m.cfg.DebounceCount),
	}
}

// Latest returns the most recent snapshot. The zero Status is returned
// before the first sample completes.
func (m *Monitor) Latest() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Run samples at the configured interval until the context is cancelled
// or Stop is called, delivering each snapshot to sink. The sink runs on
// the sampling goroutine and must return quickly to preserve the
// sampling rate.
func (m *Monitor) Run(ctx context.Context, sink func(Status)) {
	interval := m.cfg.SampleInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("interlock monitor started", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			m.log.Info("interlock monitor stopped", "reason", "context cancelled")
			return
		case <-m.done:
			m.log.Info("interlock monitor stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			status := m.Sample(ctx)
			if sink != nil {
				sink(status)
			}
		}
	}
}

// Stop terminates the Run loop. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}
