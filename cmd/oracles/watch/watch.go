package watch

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/logging"
	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/settings"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/flightsurety/oracle-server/flightsurety/ledger"
	"github.com/flightsurety/oracle-server/flightsurety/listener"
	"github.com/urfave/cli/v2"
)

var kindColors = map[contract.EventKind]*color.Color{
	contract.KindOracleRequest:        color.New(color.FgCyan, color.Bold),
	contract.KindSubmitOracleResponse: color.New(color.FgGreen),
	contract.KindOracleReport:         color.New(color.FgYellow),
}

var lifecycleColor = color.New(color.FgMagenta)

func Watch() *cli.Command {
	s := &settings.Settings{}
	cfg := struct {
		from   string
		filter string
		kinds  cli.StringSlice
	}{}
	return &cli.Command{
		Name:  "watch",
		Usage: "Print contract events as they are mined, without answering them",
		Flags: append(s.Flags(),
			&cli.StringFlag{
				Name:        "from",
				Usage:       "Where to start: genesis or latest",
				Value:       ledger.StartLatest.String(),
				Destination: &cfg.from,
			},
			&cli.StringFlag{
				Name:        "filter",
				Usage:       `Only print events matching an expression, e.g. 'flight == "JJ3720"'`,
				Destination: &cfg.filter,
			},
			&cli.StringSliceFlag{
				Name:        "kind",
				Usage:       "Event kinds to print, all by default",
				Destination: &cfg.kinds,
			},
		),
		Action: func(c *cli.Context) error {
			conf, err := s.Load(c)
			if err != nil {
				return err
			}
			conf.Dispatch.History = cfg.from
			start, err := conf.History()
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			err = conf.Validate()
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			f, err := newFilter(cfg.filter)
			if err != nil {
				return err
			}

			logger, closeLog := logging.Setup(conf.Log)
			defer closeLog()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()

			client, binding, err := settings.Connect(ctx, conf, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			kinds := []contract.EventKind{contract.KindOracleRequest, contract.KindSubmitOracleResponse, contract.KindOracleReport}
			kinds = append(kinds, contract.LifecycleKinds...)
			if names := cfg.kinds.Value(); len(names) > 0 {
				kinds = kinds[:0]
				for _, n := range names {
					kinds = append(kinds, contract.EventKind(n))
				}
			}

			p := &printer{out: color.Output, filter: f}
			l := listener.New(client, binding, logger)
			for _, kind := range kinds {
				if !binding.Supports(kind) && len(cfg.kinds.Value()) == 0 {
					continue
				}
				err = l.Handle(kind, start, p.print)
				if err != nil {
					return err
				}
			}

			err = l.Start(ctx)
			if err != nil {
				return err
			}

			l.Wait()
			return nil
		},
	}
}

type printer struct {
	mu     sync.Mutex
	out    io.Writer
	filter *filter
}

func (p *printer) print(ctx context.Context, ev contract.Event) {
	if !p.filter.match(ev) {
		return
	}

	c, ok := kindColors[ev.Kind()]
	if !ok {
		c = lifecycleColor
	}

	fields := ev.Fields()
	parts := make([]string, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}

	lg := ev.Log()

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%8d %s %s\n", lg.BlockNumber, c.Sprintf("%-20s", ev.Kind()), strings.Join(parts, " "))
}
