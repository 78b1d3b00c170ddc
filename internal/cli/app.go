package cli

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/pablasso/taskpilot/internal/agent"
	"github.com/pablasso/taskpilot/internal/config"
	"github.com/pablasso/taskpilot/internal/events"
	"github.com/pablasso/taskpilot/internal/logging"
	"github.com/pablasso/taskpilot/internal/orchestrator"
	"github.com/pablasso/taskpilot/internal/session"
	"github.com/pablasso/taskpilot/internal/task"
)

// app is the engine wired from configuration for one CLI invocation.
type app struct {
	cfg        *config.Config
	logger     *log.Logger
	bus        *events.Bus
	store      *task.FileStore
	storage    *session.Storage
	registry   *session.Registry
	supervisor *agent.Supervisor
	orch       *orchestrator.Orchestrator

	closers []func()
}

// loadConfig loads the layered configuration and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{})
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		dir, err := filepath.Abs(dataDirFlag)
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dir
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	return cfg, cfg.Validate()
}

// openApp wires the engine. The data directory must exist.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := requireInitialized(cfg.DataDir); err != nil {
		return nil, err
	}

	logger := logging.New(os.Stderr, logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Prefix: "taskpilot",
	})

	a := &app{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(256),
	}

	if cfg.Events.Journal {
		j := events.NewJournal(cfg.JournalPath())
		a.closers = append(a.closers, j.Attach(a.bus, func(err error) {
			logger.Warn("journal write failed", "path", j.Path(), "err", err)
		}))
	}
	if cfg.Events.NATSURL != "" {
		fwd, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.NATSSubject, logger)
		if err != nil {
			logger.Warn("event forwarding disabled", "err", err)
		} else {
			a.closers = append(a.closers, fwd.Attach(a.bus), func() {
				if err := fwd.Close(); err != nil {
					logger.Warn("close nats connection", "err", err)
				}
			})
		}
	}

	a.store = task.NewFileStore(cfg.DataDir)
	a.storage = session.NewStorage(cfg.SessionsDir())
	a.registry = session.NewRegistry(a.bus,
		session.WithMaxHistory(cfg.History.MaxSessions),
		session.WithThresholds(session.HealthThresholds{
			SlowAfter:  cfg.SlowAfter(),
			StaleAfter: cfg.StaleAfter(),
		}),
		session.WithStorage(a.storage),
		session.WithLogger(logger),
	)
	a.supervisor = agent.NewSupervisor(agent.SupervisorConfig{
		Registry: a.registry,
		LogsDir:  cfg.LogsDir(),
		Logger:   logger,
	})
	a.orch = orchestrator.New(orchestrator.Config{
		Store:      a.store,
		Registry:   a.registry,
		Supervisor: a.supervisor,
		Publisher:  a.bus,
		Profiles:   orchestrator.ProfileFunc(cfg.Profile),
		Logger:     logger,
		WorkDir:    cfg.WorkDir,
		Timeout:    cfg.Timeout(),
	})
	return a, nil
}

// Close waits for running sessions to be recorded, prunes old session files
// and detaches event sinks.
func (a *app) Close() {
	a.orch.Wait()
	a.supervisor.Wait()

	if err := a.storage.Prune(a.cfg.History.MaxSessions); err != nil {
		a.logger.Warn("prune session history", "err", err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.bus.Close()
}
