package serve

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/logging"
	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/settings"
	"github.com/flightsurety/oracle-server/flightsurety/api"
	"github.com/flightsurety/oracle-server/flightsurety/journal"
	"github.com/flightsurety/oracle-server/flightsurety/service"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func Serve() *cli.Command {
	s := &settings.Settings{}
	cfg := struct {
		trigger string
		status  string
		history string
		listen  string
		journal string
		noAPI   bool
		strict  bool
	}{}
	return &cli.Command{
		Name:  "serve",
		Usage: "Register the oracles and answer oracle requests",
		Flags: append(append(s.Flags(), s.OracleFlags()...),
			&cli.StringFlag{
				Name:        "trigger",
				Usage:       "Event that makes the oracles answer: request or response",
				EnvVars:     []string{"ORACLES_TRIGGER"},
				Destination: &cfg.trigger,
			},
			&cli.StringFlag{
				Name:        "status",
				Usage:       "Status code the oracles report, or random",
				EnvVars:     []string{"ORACLES_STATUS"},
				Destination: &cfg.status,
			},
			&cli.StringFlag{
				Name:        "history",
				Usage:       "Where informational subscriptions start: genesis or latest",
				EnvVars:     []string{"ORACLES_HISTORY"},
				Destination: &cfg.history,
			},
			&cli.StringFlag{
				Name:        "listen",
				Usage:       "Address the HTTP API listens on",
				EnvVars:     []string{"ORACLES_LISTEN"},
				Destination: &cfg.listen,
			},
			&cli.StringFlag{
				Name:        "journal",
				Usage:       "Path of the SQLite event journal",
				EnvVars:     []string{"ORACLES_JOURNAL"},
				Destination: &cfg.journal,
			},
			&cli.BoolFlag{
				Name:        "no-api",
				Usage:       "Do not serve the HTTP API",
				Destination: &cfg.noAPI,
			},
			&cli.BoolFlag{
				Name:        "strict",
				Usage:       "Exit when registration or a subscription fails",
				EnvVars:     []string{"ORACLES_STRICT"},
				Destination: &cfg.strict,
			},
		),
		Action: func(c *cli.Context) error {
			conf, err := s.Load(c)
			if err != nil {
				return err
			}
			if c.IsSet("trigger") {
				conf.Dispatch.Trigger = cfg.trigger
			}
			if c.IsSet("status") {
				conf.Dispatch.Status = cfg.status
			}
			if c.IsSet("history") {
				conf.Dispatch.History = cfg.history
			}
			if c.IsSet("listen") {
				conf.API.Listen = cfg.listen
			}
			if c.IsSet("journal") {
				conf.Journal.Path = cfg.journal
			}
			if cfg.noAPI {
				conf.API.Enabled = false
			}
			err = conf.Validate()
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, closeLog := logging.Setup(conf.Log)
			defer closeLog()

			metrics.Enable()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, binding, err := settings.Connect(ctx, conf, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			opts := service.Options{
				Offset: conf.Oracles.Offset,
				Count:  conf.Oracles.Count,
			}
			// validated above
			opts.Commit, _ = conf.CommitPolicy()
			opts.Trigger, _ = conf.Trigger()
			opts.Status, _ = conf.StatusSource()
			opts.History, _ = conf.History()

			var j *journal.Journal
			if conf.Journal.Path != "" {
				j, err = journal.Open(ctx, conf.Journal.Path, logger)
				if err != nil {
					return fmt.Errorf("failed to open journal: %w", err)
				}
				defer j.Close()
				opts.Journal = j
				logger.Info("Journaling events", "path", conf.Journal.Path, "session", j.Session())
			}

			svc := service.New(client, binding, opts, logger)

			g, ctx := errgroup.WithContext(ctx)

			if conf.API.Enabled {
				l, err := net.Listen("tcp", conf.API.Listen)
				if err != nil {
					return fmt.Errorf("failed to listen on %s: %w", conf.API.Listen, err)
				}
				apiOpts := api.Options{CORSOrigins: conf.API.CORSOrigins}
				if j != nil {
					apiOpts.Events = j
				}
				h := api.NewHandler(svc, apiOpts, logger)
				g.Go(func() error {
					return api.Serve(ctx, l, h, logger)
				})
			}

			fail := func(msg string, err error) error {
				logger.Error(msg, "err", err)
				if !cfg.strict {
					return nil
				}
				stop()
				svc.Wait()
				g.Wait()
				return fmt.Errorf("%s: %w", strings.ToLower(msg), err)
			}

			selected, err := svc.Register(ctx)
			if err != nil {
				if err := fail("Failed to register oracles", err); err != nil {
					return err
				}
			}
			logger.Info("Oracle pool ready", "selected", len(selected), "registered", svc.Pool().Len())

			err = svc.Listen(ctx)
			if err != nil {
				if err := fail("Failed to subscribe to events", err); err != nil {
					return err
				}
			}

			<-ctx.Done()
			logger.Info("Shutting down")
			svc.Wait()

			return g.Wait()
		},
	}
}
