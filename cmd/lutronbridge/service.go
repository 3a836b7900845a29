package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-lutron/internal/api"
	"github.com/nerrad567/gray-logic-lutron/internal/bridges/lutron"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/mqtt"
)

// serviceDeps holds the shared components every bridge is wired to.
// MQTT, Influx and Recorder are optional.
type serviceDeps struct {
	Logger   *logging.Logger
	Metrics  *lutron.Metrics
	MQTT     *mqtt.Client
	Influx   *influxdb.Client
	Recorder *lutron.Recorder
	Health   time.Duration

	// Dialer overrides the network dialer.
	Dialer lutron.Dialer
}

// managedBridge is one running hub connection and the components that
// hang off it.
type managedBridge struct {
	bridge    *lutron.Bridge
	publisher *lutron.Publisher
	reporter  *lutron.HealthReporter
}

// service owns the set of running bridges. It implements api.BridgeSet.
type service struct {
	deps      serviceDeps
	observers []lutron.Observer

	mu      sync.RWMutex
	bridges map[string]*managedBridge
}

var _ api.BridgeSet = (*service)(nil)

func newService(deps serviceDeps) *service {
	return &service{
		deps:    deps,
		bridges: make(map[string]*managedBridge),
	}
}

// addObserver attaches o to every bridge started afterwards.
func (s *service) addObserver(o lutron.Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// lutronConfig converts a bridge section of the service configuration.
func lutronConfig(bc config.BridgeConfig) lutron.Config {
	reconnect, heartbeat, keepalive, connect, delay := bc.Timings()
	return lutron.Config{
		ID:                bc.ID,
		Protocol:          lutron.Protocol(bc.Protocol),
		Host:              bc.Host,
		Port:              bc.Port,
		Username:          bc.Username,
		Password:          bc.Password,
		Keystore:          bc.Keystore,
		KeystorePassword:  bc.KeystorePassword,
		CertFile:          bc.CertFile,
		KeyFile:           bc.KeyFile,
		CAFile:            bc.CAFile,
		CertValidate:      bc.CertValidate,
		ReconnectInterval: reconnect,
		HeartbeatInterval: heartbeat,
		KeepaliveTimeout:  keepalive,
		ConnectTimeout:    connect,
		CommandDelay:      delay,
		Monitoring:        bc.Monitoring,
		MaxQueuedCommands: bc.MaxQueuedCommands,
	}
}

// apply reconciles the running bridges with bridges: new ids are started,
// missing ids are stopped and the rest get UpdateConfig. Nothing changes
// if any entry is invalid.
func (s *service) apply(ctx context.Context, bridges []config.BridgeConfig) error {
	wanted := make(map[string]lutron.Config, len(bridges))
	var errs []error
	for _, bc := range bridges {
		cfg := lutronConfig(bc).WithDefaults()
		if err := cfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("bridge %q: %w", bc.ID, err))
			continue
		}
		wanted[cfg.ID] = cfg
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.mu.Lock()
	var removed []*managedBridge
	for id, mb := range s.bridges {
		if _, ok := wanted[id]; !ok {
			removed = append(removed, mb)
			delete(s.bridges, id)
		}
	}
	var added []*managedBridge
	for id, cfg := range wanted {
		if mb, ok := s.bridges[id]; ok {
			mb.bridge.UpdateConfig(cfg)
			continue
		}
		mb, err := s.build(cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("bridge %q: %w", id, err))
			continue
		}
		s.bridges[id] = mb
		added = append(added, mb)
	}
	s.mu.Unlock()

	for _, mb := range removed {
		s.deps.Logger.Info("removing bridge", "bridge_id", mb.bridge.ID())
		s.stop(mb)
	}
	for _, mb := range added {
		s.start(ctx, mb)
	}
	return errors.Join(errs...)
}

// build creates a bridge and wires its observers. It does not connect.
func (s *service) build(cfg lutron.Config) (*managedBridge, error) {
	log := s.deps.Logger.ForBridge(cfg.ID)
	b, err := lutron.NewBridge(lutron.BridgeOptions{
		Config:  cfg,
		Dialer:  s.deps.Dialer,
		Logger:  log,
		Metrics: s.deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	mb := &managedBridge{bridge: b}
	rcfg := lutron.HealthReporterConfig{
		Version:  version,
		Interval: s.deps.Health,
		Source:   b,
		Logger:   log,
	}
	if s.deps.MQTT != nil {
		mb.publisher = lutron.NewPublisher(cfg.ID, s.deps.MQTT, b, log)
		b.AddObserver(mb.publisher)
		rcfg.Publisher = s.deps.MQTT
	}
	if s.deps.Influx != nil {
		rcfg.Stats = s.deps.Influx
	}
	if s.deps.Recorder != nil {
		b.AddObserver(s.deps.Recorder)
	}
	for _, o := range s.observers {
		b.AddObserver(o)
	}
	mb.reporter = lutron.NewHealthReporter(rcfg)
	b.AddStatusListener(mb.reporter)
	return mb, nil
}

// start subscribes to commands, begins health reporting and connects in
// the background. Connection failures are retried by the bridge.
func (s *service) start(ctx context.Context, mb *managedBridge) {
	id := mb.bridge.ID()
	log := s.deps.Logger.ForBridge(id)

	if mb.publisher != nil {
		if err := mb.publisher.Start(); err != nil {
			log.Warn("command intake unavailable", "error", err)
		}
	}
	if err := mb.reporter.PublishStarting(); err != nil {
		log.Debug("failed to publish starting health", "error", err)
	}
	mb.reporter.Start(ctx)

	go func() {
		if err := mb.bridge.Connect(ctx); err != nil && !errors.Is(err, lutron.ErrClosed) {
			log.Warn("initial connection failed; retrying", "error", err)
		}
	}()
	log.Info("bridge started", "address", mb.bridge.Config().Address())
}

func (s *service) stop(mb *managedBridge) {
	mb.reporter.Stop()
	if err := mb.bridge.Close(); err != nil {
		s.deps.Logger.Error("error closing bridge", "bridge_id", mb.bridge.ID(), "error", err)
	}
	if mb.publisher != nil {
		if err := mb.publisher.Stop(); err != nil {
			s.deps.Logger.Debug("failed to unsubscribe commands", "bridge_id", mb.bridge.ID(), "error", err)
		}
	}
}

// closeAll stops every bridge.
func (s *service) closeAll() {
	s.mu.Lock()
	all := make([]*managedBridge, 0, len(s.bridges))
	for id, mb := range s.bridges {
		all = append(all, mb)
		delete(s.bridges, id)
	}
	s.mu.Unlock()

	for _, mb := range all {
		s.stop(mb)
	}
	if len(all) > 0 {
		s.deps.Logger.Info("bridges stopped", "count", len(all))
	}
}

// List returns the running bridges ordered by id.
func (s *service) List() []api.Bridge {
	s.mu.RLock()
	ids := make([]string, 0, len(s.bridges))
	for id := range s.bridges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]api.Bridge, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.bridges[id].bridge)
	}
	s.mu.RUnlock()
	return out
}

// Get returns the running bridge with the given id.
func (s *service) Get(id string) (api.Bridge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, ok := s.bridges[id]
	if !ok {
		return nil, false
	}
	return mb.bridge, true
}
