// Lumacore - Laser Treatment Device Safety Controller
//
// This is the main entry point for the Lumacore controller. It wires the
// safety authority, interlock monitor, hardware watchdog and protocol
// engine together, persists the safety event stream, and exposes the
// REST/WebSocket API the treatment console talks to.
//
// The wiring here is deliberately explicit: the safety authority is the
// only component allowed to command the laser, and everything else is
// either feeding it observations or asking it for permission.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/photarc/lumacore/migrations"

	"github.com/photarc/lumacore/internal/api"
	"github.com/photarc/lumacore/internal/events"
	"github.com/photarc/lumacore/internal/hal"
	"github.com/photarc/lumacore/internal/infrastructure/config"
	"github.com/photarc/lumacore/internal/infrastructure/database"
	"github.com/photarc/lumacore/internal/infrastructure/influxdb"
	"github.com/photarc/lumacore/internal/infrastructure/logging"
	"github.com/photarc/lumacore/internal/infrastructure/mqtt"
	"github.com/photarc/lumacore/internal/interlock"
	"github.com/photarc/lumacore/internal/protocol"
	"github.com/photarc/lumacore/internal/safety"
	"github.com/photarc/lumacore/internal/watchdog"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// initReadyTimeout bounds the wait for the first clean interlock sweep
// before initialisation is declared complete.
const initReadyTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo,cyclop,funlen,maintidx // sequential startup wiring reads best as one function
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting lumacore",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
		"device_id", cfg.Device.ID,
	)

	// Database first: the event stream must be durable before anything
	// that can raise a fault is running.
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Error("closing database", "error", cerr)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", "path", db.Path())

	// Hardware layer. Only the simulator backend exists today; a real
	// controller build swaps in its own hal.SignalReader/CommandSender.
	if !cfg.Device.Simulate {
		logger.Warn("hardware drivers not configured, using simulator backend")
	}
	sim := hal.NewSimulator()
	clock := hal.NewSystemClock()

	// Event stream plumbing: dispatcher fans out, recorder adapts the
	// authority's records, repository persists.
	dispatcher := events.NewDispatcher(logger.With("component", "events"))
	defer dispatcher.Close()
	recorder := events.NewRecorder(dispatcher, clock)
	repo := events.NewSQLiteRepository(db.DB)

	dispatcher.Attach("database", 256, func(ev events.Event) {
		dbCtx, dbCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dbCancel()
		if err := repo.Append(dbCtx, ev); err != nil {
			logger.Error("persisting safety event", "event_id", ev.ID, "error", err)
		}
	})

	// Watchdog and authority reference each other: the watchdog raises
	// the authority's timeout handler, the authority beats the watchdog
	// on every interlock update. Declare the authority first so the
	// timeout closure can capture it.
	var authority *safety.Authority
	wd, err := watchdog.New(clock, watchdog.Config{
		Timeout:       cfg.Watchdog.Timeout,
		CheckInterval: cfg.Watchdog.CheckInterval,
	}, func(silence time.Duration) {
		authority.WatchdogTimeout(silence)
	}, logger.With("component", "watchdog"))
	if err != nil {
		return fmt.Errorf("creating watchdog: %w", err)
	}

	limits := safety.Limits{
		AbsoluteMaxWatts:      cfg.Limits.AbsoluteMaxWatts,
		MaxRampWattsPerSecond: cfg.Limits.MaxRampWattsPerSecond,
		MaxTravelMM:           cfg.Limits.MaxTravelMM,
	}

	// The abort handler captures the engine variable before the engine
	// exists; the authority cannot fault before run() finishes wiring.
	var engine *protocol.Engine
	authority, err = safety.NewAuthority(clock, sim, limits,
		safety.Config{StalenessWindow: cfg.Safety.StalenessWindow},
		safety.WithLogger(logger.With("component", "safety")),
		safety.WithRecorder(recorder),
		safety.WithWatchdog(wd, wd.Heartbeat),
		safety.WithAbortHandler(func() {
			if engine != nil {
				engine.Abort(context.Background(), "safety fault")
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("creating safety authority: %w", err)
	}

	engine, err = protocol.NewEngine(authority, limits,
		protocol.Config{TickInterval: cfg.Engine.TickInterval},
		protocol.WithLogger(logger.With("component", "protocol")),
	)
	if err != nil {
		return fmt.Errorf("creating protocol engine: %w", err)
	}

	calibration := interlock.NewCalibration(calibrationPoints(cfg.Safety.Calibration))
	monitor, err := interlock.NewMonitor(sim, clock, interlock.Config{
		SampleInterval:          cfg.Safety.SampleInterval,
		SignalReadTimeout:       cfg.Safety.SignalReadTimeout,
		DebounceCount:           cfg.Safety.DebounceCount,
		PowerWarnBand:           cfg.Safety.PowerWarnBand,
		PowerFaultBand:          cfg.Safety.PowerFaultBand,
		PowerZeroToleranceWatts: cfg.Safety.PowerZeroToleranceWatts,
	}, calibration, authority.CommandedWatts,
		interlock.WithLogger(logger.With("component", "interlock")),
		interlock.WithAdvisoryHandler(func(adv interlock.Advisory) {
			authority.RaiseAdvisory(adv.Signal, adv.Detail)
		}),
	)
	if err != nil {
		return fmt.Errorf("creating interlock monitor: %w", err)
	}

	// Optional MQTT connection for console-adjacent consumers.
	var mqttClient *mqtt.Client
	topics := mqtt.Topics{}
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			// MQTT is advisory transport; the controller runs without it.
			logger.Error("MQTT connection failed, continuing without broker", "error", err)
			mqttClient = nil
		} else {
			mqttClient.SetLogger(logger.With("component", "mqtt"))
			defer func() {
				if cerr := mqttClient.Close(); cerr != nil {
					logger.Error("closing MQTT client", "error", cerr)
				}
			}()
			subscribeDeviceHealth(mqttClient, topics, cfg.Device.ID, logger)
		}
	}

	// Optional InfluxDB connection for power and interlock telemetry.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			logger.Error("InfluxDB connection failed, continuing without telemetry", "error", err)
			influxClient = nil
		} else {
			influxClient.SetOnError(func(werr error) {
				logger.Warn("telemetry write failed", "error", werr)
			})
			defer func() {
				if cerr := influxClient.Close(); cerr != nil {
					logger.Error("closing InfluxDB client", "error", cerr)
				}
			}()
		}
	}

	// WebSocket hub is created here rather than inside the API server so
	// the event dispatcher can broadcast through it.
	hub := api.NewHub(cfg.WebSocket, logger.With("component", "websocket"))
	go hub.Run(ctx)

	attachEventSinks(dispatcher, hub, mqttClient, topics, influxClient, logger)

	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      logger.With("component", "api"),
		Authority:   authority,
		Engine:      engine,
		Events:      repo,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Start the safety loops. The interlock sink is the heartbeat path:
	// every sweep lands in the authority, which beats the watchdog.
	if err := authority.BeginInit(); err != nil {
		return fmt.Errorf("beginning initialisation: %w", err)
	}

	go wd.Run(ctx)
	go engine.Run(ctx)
	go monitor.Run(ctx, interlockSink(authority, hub, mqttClient, topics, influxClient))
	go progressLoop(ctx, engine, hub, mqttClient, topics)
	if mqttClient != nil {
		go healthReportLoop(ctx, authority, monitor, clock, mqttClient, topics, cfg.Device.ID)
	}

	if err := waitForInterlocks(ctx, monitor, clock, cfg.Safety.StalenessWindow); err != nil {
		logger.Error("initial interlock sweep not clean", "error", err)
	}
	if err := authority.CompleteInit(); err != nil {
		// Stays in Initializing; the console shows why and the operator
		// clears the underlying condition before retrying startup.
		logger.Error("initialisation incomplete", "error", err, "interlocks", monitor.Latest().Faulted())
	} else {
		logger.Info("initialisation complete", "state", authority.State())
	}

	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if cerr := apiServer.Close(); cerr != nil {
			logger.Error("closing API server", "error", cerr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		logger.Warn("startup health check reported a problem", "error", err)
	}

	logger.Info("lumacore running",
		"state", authority.State(),
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"mqtt", mqttClient != nil,
		"influxdb", influxClient != nil,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// getConfigPath returns the config file path from the environment or the
// default location.
func getConfigPath() string {
	if path := os.Getenv("LUMACORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// calibrationPoints converts config calibration entries to the interlock
// package's point type.
func calibrationPoints(pts []config.CalibrationPoint) []interlock.CalibrationPoint {
	out := make([]interlock.CalibrationPoint, 0, len(pts))
	for _, p := range pts {
		out = append(out, interlock.CalibrationPoint{Raw: p.Raw, Watts: p.Watts})
	}
	return out
}

// interlockSink builds the monitor's per-sweep callback. The authority
// update is the safety-critical part and always runs; broadcasts are
// decimated so a 100 Hz sweep does not flood console clients, while
// telemetry takes every sample because the Influx writer batches.
func interlockSink(authority *safety.Authority, hub *api.Hub, mqttClient *mqtt.Client, topics mqtt.Topics, influxClient *influxdb.Client) func(interlock.Status) {
	var sweep uint64
	return func(st interlock.Status) {
		authority.UpdateInterlocks(st)

		if influxClient != nil {
			influxClient.WriteInterlockSample(st)
		}

		sweep++
		if sweep%10 != 0 {
			return
		}
		hub.Broadcast(api.ChannelInterlocks, st)
		if mqttClient != nil {
			if payload, err := json.Marshal(st); err == nil {
				_ = mqttClient.PublishRetained(topics.Interlocks(), payload)
			}
		}
	}
}

// attachEventSinks fans the safety event stream out to the WebSocket hub,
// the MQTT broker and the telemetry store. The database sink is attached
// earlier, before anything that can fault is running.
func attachEventSinks(d *events.Dispatcher, hub *api.Hub, mqttClient *mqtt.Client, topics mqtt.Topics, influxClient *influxdb.Client, logger *logging.Logger) {
	d.Attach("websocket", 64, func(ev events.Event) {
		hub.Broadcast(eventChannel(ev.Type), ev)
	})

	if mqttClient != nil {
		d.Attach("mqtt", 128, func(ev events.Event) {
			payload, err := json.Marshal(ev)
			if err != nil {
				logger.Error("marshalling event for MQTT", "event_id", ev.ID, "error", err)
				return
			}
			_ = mqttClient.PublishEvent(topics.Events(), payload)
			switch ev.Type {
			case events.TypeTransition:
				_ = mqttClient.PublishRetained(topics.SafetyState(), payload)
			case events.TypeFault:
				_ = mqttClient.PublishRetained(topics.Fault(), payload)
			case events.TypeAdvisory:
				_ = mqttClient.PublishEvent(topics.Advisory(), payload)
			}
		})
	}

	if influxClient != nil {
		d.Attach("influxdb", 256, func(ev events.Event) {
			switch ev.Type {
			case events.TypeTransition:
				influxClient.WriteStateTransition(ev.FromState, ev.ToState, ev.Trigger, ev.WallTime)
			case events.TypeFault:
				influxClient.WriteFault(ev.Source, ev.Signal, ev.Severity, ev.WallTime)
			case events.TypeAdvisory:
				// Advisories carry no numeric series; the event log has them.
			}
		})
	}
}

// eventChannel maps an event type to its WebSocket broadcast channel.
func eventChannel(t events.Type) string {
	switch t {
	case events.TypeFault:
		return api.ChannelFault
	case events.TypeAdvisory:
		return api.ChannelAdvisory
	case events.TypeTransition:
		return api.ChannelState
	default:
		return api.ChannelState
	}
}

// healthReport is the retained per-device health payload.
type healthReport struct {
	DeviceID  string   `json:"device_id"`
	Status    string   `json:"status"`
	State     string   `json:"state"`
	Faulted   []string `json:"faulted,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// healthReportLoop publishes a retained health report for this device at
// a fleet-visibility cadence. Safety-relevant consumers use the event
// stream; this topic is for dashboards watching many controllers.
func healthReportLoop(ctx context.Context, authority *safety.Authority, monitor *interlock.Monitor, clock hal.Clock, mqttClient *mqtt.Client, topics mqtt.Topics, deviceID string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	publish := func() {
		state := authority.State()
		st := monitor.Latest()
		report := healthReport{
			DeviceID:  deviceID,
			Status:    "ok",
			State:     string(state),
			Timestamp: clock.Wall().UTC().Format(time.RFC3339),
		}
		if state == safety.StateFault {
			report.Status = "fault"
		}
		for _, sig := range st.Faulted() {
			report.Faulted = append(report.Faulted, string(sig))
		}
		if payload, err := json.Marshal(report); err == nil {
			_ = mqttClient.PublishRetained(topics.DeviceHealth(deviceID), payload)
		}
	}

	publish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish()
		}
	}
}

// subscribeDeviceHealth watches the health topics of every controller on
// the broker and logs degraded peers. Deployments with one treatment
// room still benefit: a stale retained fault report from a previous boot
// shows up in the log immediately.
func subscribeDeviceHealth(mqttClient *mqtt.Client, topics mqtt.Topics, ownID string, logger *logging.Logger) {
	err := mqttClient.Subscribe(topics.AllDeviceHealth(), 1, func(topic string, payload []byte) error {
		var report healthReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return fmt.Errorf("parsing health report on %s: %w", topic, err)
		}
		if report.DeviceID == ownID {
			return nil
		}
		if report.Status != "ok" {
			logger.Warn("peer device reporting degraded health",
				"device_id", report.DeviceID,
				"status", report.Status,
				"state", report.State,
				"faulted", report.Faulted,
			)
		}
		return nil
	})
	if err != nil {
		logger.Warn("subscribing to device health", "error", err)
	}
}

// progressLoop broadcasts the protocol execution cursor while a protocol
// is running or paused.
func progressLoop(ctx context.Context, engine *protocol.Engine, hub *api.Hub, mqttClient *mqtt.Client, topics mqtt.Topics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := engine.State()
			if state != protocol.ExecRunning && state != protocol.ExecPaused {
				continue
			}
			cursor := engine.Progress()
			hub.Broadcast(api.ChannelProgress, cursor)
			if mqttClient != nil {
				if payload, err := json.Marshal(cursor); err == nil {
					_ = mqttClient.PublishRetained(topics.ProtocolProgress(), payload)
				}
			}
		}
	}
}

// waitForInterlocks blocks until the monitor has produced a snapshot every
// signal of which reads clean, or the ready timeout elapses. The deadman
// is expected released at startup, so readiness is the arm gate rather
// than all-ok.
func waitForInterlocks(ctx context.Context, monitor *interlock.Monitor, clock hal.Clock, staleness time.Duration) error {
	deadline := time.After(initReadyTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			st := monitor.Latest()
			return fmt.Errorf("interlocks not ready after %s: %v", initReadyTimeout, st.Faulted())
		case <-ticker.C:
			st := monitor.Latest()
			if st.Fresh(clock.Monotonic(), staleness) && st.ReadyToArm() {
				return nil
			}
		}
	}
}

// healthCheck verifies all connected components respond.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if err := apiServer.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
