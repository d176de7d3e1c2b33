package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/service"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store/memory"
	sqlitestore "github.com/FERLEY2004/QRRR-sub001/internal/access/store/sqlite"
	"github.com/FERLEY2004/QRRR-sub001/internal/clock"
	"github.com/FERLEY2004/QRRR-sub001/internal/config"
	"github.com/FERLEY2004/QRRR-sub001/internal/db"
)

// app is the dependency graph shared by every command.
type app struct {
	cfg    config.Config
	policy config.Policy
	logger *slog.Logger
	clock  clock.Clock

	conn   *sql.DB // nil for the memory store
	writer *db.Worker
	mem    *memory.Store
	store  store.Store

	presence *service.PresenceResolver
	detector *service.Detector
	scans    *service.ScanService
	desk     *service.VisitorDesk
}

func newApp(ctx context.Context, c *cli.Command) (*app, error) {
	cfg := config.FromEnv()
	if v := c.String("store"); v != "" {
		cfg.Store = strings.ToLower(v)
	}
	if v := c.String("db-path"); v != "" {
		cfg.DBPath = v
	}
	if v := c.String("policy"); v != "" {
		cfg.PolicyFile = v
	}

	logger := newLogger(cfg)

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, policy: policy, logger: logger, clock: clock.Real()}

	switch cfg.Store {
	case "memory":
		a.mem = memory.New()
		a.store = a.mem
	case "sqlite":
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env, BusyTimeout: cfg.BusyTimeout}, logger)
		if err != nil {
			return nil, err
		}
		a.conn = conn
		a.writer = db.NewWorker(conn)
		a.store = sqlitestore.New(conn, a.writer)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	a.presence = service.NewPresenceResolver(a.store, a.clock)
	a.detector = service.NewDetector(a.store, policy, a.clock, logger)
	a.scans = service.NewScanService(a.store, a.presence, a.detector, policy, a.clock, logger)
	a.desk = service.NewVisitorDesk(a.store, policy, a.clock, logger)
	return a, nil
}

// Ping reports storage health. The memory store is always healthy.
func (a *app) Ping(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	return a.conn.PingContext(ctx)
}

func (a *app) Close() {
	if a.writer != nil {
		a.writer.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

func (a *app) seed(ctx context.Context) error {
	if a.conn != nil {
		if err := db.SeedDev(ctx, a.conn, db.SeedDevOptions{}); err != nil {
			return err
		}
		a.logger.Info("dev seed applied", "members", len(db.DefaultSeedPersons))
		return nil
	}
	return seedMemory(a.mem, a.clock)
}

// seedMemory loads the same starter roster into the memory store.
func seedMemory(st *memory.Store, clk clock.Clock) error {
	now := clk.Now()
	for _, sp := range db.DefaultSeedPersons {
		role, err := model.ParseRole(sp.Role)
		if err != nil {
			return fmt.Errorf("seed %s: %w", sp.DocumentNumber, err)
		}
		p := model.Person{
			ID:             sp.ID,
			DocumentNumber: sp.DocumentNumber,
			DocumentType:   sp.DocumentType,
			GivenNames:     sp.GivenNames,
			Surnames:       sp.Surnames,
			DisplayName:    sp.GivenNames + " " + sp.Surnames,
			Role:           role,
			Status:         model.StatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := st.PutPerson(p); err != nil {
			return fmt.Errorf("seed %s: %w", sp.DocumentNumber, err)
		}
		if sp.GroupCode != "" {
			st.PutPlacement(model.Placement{
				PersonID:        sp.ID,
				GroupCode:       sp.GroupCode,
				Program:         db.SeedProgram,
				Shift:           model.ShiftMorning,
				EnvironmentID:   db.SeedEnvironmentID,
				EnvironmentName: db.SeedEnvironmentName,
				Capacity:        db.SeedEnvironmentCapacity,
			})
		}
	}
	return nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.IsProd() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h).With("service", "qraccess-server")
}
