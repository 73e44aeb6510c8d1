package register

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/logging"
	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/settings"
	"github.com/flightsurety/oracle-server/flightsurety/pool"
	"github.com/flightsurety/oracle-server/flightsurety/service"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func Register() *cli.Command {
	s := &settings.Settings{}
	return &cli.Command{
		Name:  "register",
		Usage: "Register the oracle accounts and print their indexes",
		Flags: append(s.Flags(), s.OracleFlags()...),
		Action: func(c *cli.Context) error {
			conf, err := s.Load(c)
			if err != nil {
				return err
			}
			err = conf.Validate()
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
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

			commit, err := conf.CommitPolicy()
			if err != nil {
				return err
			}

			svc := service.New(client, binding, service.Options{
				Offset: conf.Oracles.Offset,
				Count:  conf.Oracles.Count,
				Commit: commit,
			}, logger)

			selected, regErr := svc.Register(ctx)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Account", "Status", "Indexes"})
			for _, account := range selected {
				indexes := "-"
				idx, err := svc.Pool().IndexesOf(account)
				if err == nil {
					indexes = pool.FormatIndexes(idx)
				} else if !errors.Is(err, pool.ErrUnknownIdentity) {
					return err
				}
				table.Append([]string{account.Hex(), svc.Registrar().Status(account).String(), indexes})
			}
			table.Render()

			if regErr != nil {
				return fmt.Errorf("failed to register oracles: %w", regErr)
			}
			return nil
		},
	}
}
