package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/service"
	"github.com/FERLEY2004/QRRR-sub001/internal/db"
	"github.com/FERLEY2004/QRRR-sub001/internal/grpcapi"
	"github.com/FERLEY2004/QRRR-sub001/internal/httpapi"
)

func main() {
	root := &cli.Command{
		Name:  "qraccess-server",
		Usage: "QR access event resolution engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Usage: "storage backend: sqlite | memory (default from QRACCESS_STORE)"},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite database path (default from QRACCESS_DB_PATH)"},
			&cli.StringFlag{Name: "policy", Usage: "YAML policy file (default from QRACCESS_POLICY_FILE)"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			sweepCommand(),
			occupantsCommand(),
			seedCommand(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServe(ctx, c)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "qraccess-server:", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the alert sweeper and the gRPC health endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "http-addr", Usage: "HTTP listen address (default from QRACCESS_HTTP_ADDR)"},
			&cli.StringFlag{Name: "grpc-addr", Usage: "gRPC health listen address; empty disables it"},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, c *cli.Command) error {
	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	if v := c.String("http-addr"); v != "" {
		a.cfg.HTTPAddr = v
	}
	if v := c.String("grpc-addr"); v != "" {
		a.cfg.GRPCAddr = v
	}

	if a.cfg.SeedDev {
		if err := a.seed(ctx); err != nil {
			return err
		}
	}

	stream := httpapi.NewAlertStream(a.logger)
	defer stream.Close()
	a.detector.SetPublisher(stream)

	sweeper := service.NewSweeper(a.detector, a.policy.Detector.SweepInterval, a.logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   a.logger,
		Addr:     a.cfg.HTTPAddr,
		Prod:     a.cfg.IsProd(),
		Clock:    a.clock,
		Scans:    a.scans,
		Presence: a.presence,
		Desk:     a.desk,
		Alerts:   a.store,
		Security: a.store,
		Sweeper:  sweeper,
		Stream:   stream,
		Ping:     a.Ping,
	})

	errCh := make(chan error, 2)

	if a.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		health := grpcapi.NewHealthServer(a.Ping, 10*time.Second, a.logger)
		health.Start(ctx)
		defer health.Stop()
		go func() {
			a.logger.Info("grpc health listening", "addr", a.cfg.GRPCAddr)
			errCh <- health.Serve(lis)
		}()
	}

	go func() {
		a.logger.Info("http listening", "addr", a.cfg.HTTPAddr, "env", a.cfg.Env, "store", a.cfg.Store)
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", "err", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending SQLite migrations and print their status",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.conn == nil {
				return errors.New("migrate needs the sqlite store")
			}

			status, err := db.MigrationStatus(ctx, a.conn)
			if err != nil {
				return err
			}
			for _, m := range status {
				state := "pending"
				if m.AppliedAt != nil {
					state = "applied " + m.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%04d  %-24s %s\n", m.Version, m.Name, state)
			}
			return nil
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Run every alert rule once and exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			rep := service.NewSweeper(a.detector, a.policy.Detector.SweepInterval, a.logger).SweepOnce(ctx)
			var failed int
			for _, rr := range rep.Rules {
				if rr.Err != nil {
					failed++
					fmt.Printf("%-24s error: %v\n", rr.Rule, rr.Err)
					continue
				}
				fmt.Printf("%-24s raised %d\n", rr.Rule, rr.Raised)
			}
			if failed > 0 {
				return fmt.Errorf("%d rule(s) failed", failed)
			}
			return nil
		},
	}
}

func occupantsCommand() *cli.Command {
	return &cli.Command{
		Name:  "occupants",
		Usage: "List everyone currently inside",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			occ, err := a.presence.CurrentOccupants(ctx)
			if err != nil {
				return err
			}
			printOccupants(os.Stdout, occ, a.policy.Location())
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Create the starter environment, group and members",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.seed(ctx); err != nil {
				return err
			}
			fmt.Printf("seeded %d members\n", len(db.DefaultSeedPersons))
			return nil
		},
	}
}
