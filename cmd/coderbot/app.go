package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/CoderBotOrg/coderbot/internal/config"
	"github.com/CoderBotOrg/coderbot/internal/engine"
	"github.com/CoderBotOrg/coderbot/internal/event"
	"github.com/CoderBotOrg/coderbot/internal/robot"
	"github.com/CoderBotOrg/coderbot/internal/store"
)

// app is the wired service: configuration, catalog, robot and engine.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.SQLiteStore
	engine *engine.Engine

	logCloser io.Closer
}

// newApp loads configuration, opens the catalog and indexes any payload
// files dropped into the program directory.
func newApp(ctx context.Context, configPath string, stdout io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, logCloser := config.NewServiceLogger(stdout, cfg.Log)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	added, err := db.Reconcile(ctx, cfg.ProgramDir)
	if err != nil {
		db.Close()
		logCloser.Close()
		return nil, fmt.Errorf("scan program dir: %w", err)
	}
	if added > 0 {
		logger.Info("programs indexed", "program_dir", cfg.ProgramDir, "added", added)
	}

	sim := robot.NewSim(robot.SimConfig{
		TimeScale:      cfg.Sim.TimeScale,
		TrimFactor:     cfg.MotorTrim,
		CameraDisabled: !cfg.Camera.Enabled,
		Logger:         logger,
	})
	eng := engine.NewEngine(db, engine.Collaborators{
		Motion:  sim,
		Camera:  sim,
		Sensors: sim,
		Events:  event.NewManager(logger),
	}, engine.Config{
		ProgramDir:      cfg.ProgramDir,
		TeardownTimeout: cfg.TeardownTimeout,
		Settings:        cfg,
	}, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     db,
		engine:    eng,
		logCloser: logCloser,
	}, nil
}

// Close stops a running program and releases the catalog and log file.
func (a *app) Close() error {
	a.engine.Stop()
	err := a.store.Close()
	if cerr := a.logCloser.Close(); err == nil {
		err = cerr
	}
	return err
}
