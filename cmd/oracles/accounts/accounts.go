package accounts

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/logging"
	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/settings"
	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/units"
	"github.com/flightsurety/oracle-server/flightsurety/pool"
	"github.com/flightsurety/oracle-server/flightsurety/registrar"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func Accounts() *cli.Command {
	s := &settings.Settings{}
	return &cli.Command{
		Name:  "accounts",
		Usage: "List the node accounts with their balance and oracle indexes",
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

			client, _, err := settings.Connect(ctx, conf, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			accounts, err := client.Accounts(ctx)
			if err != nil {
				return err
			}

			oracles := map[int]bool{}
			selected, err := registrar.SelectAccounts(accounts, conf.Oracles.Offset, conf.Oracles.Count)
			if err != nil {
				logger.Warn("Configured oracle accounts are not available", "err", err)
			}
			for i := range selected {
				oracles[conf.Oracles.Offset+i] = true
			}

			fee, err := client.RegistrationFee(ctx)
			if err != nil {
				logger.Warn("Failed to read registration fee", "err", err)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"#", "Account", "Balance", "Oracle slot", "Indexes"})
			for i, account := range accounts {
				balance, err := client.Balance(ctx, account)
				if err != nil {
					return err
				}

				// getMyIndexes reverts for accounts that are not oracles
				indexes := "-"
				if idx, err := client.AssignedIndexes(ctx, account); err == nil {
					indexes = pool.FormatIndexes(idx)
				}

				slot := ""
				if oracles[i] {
					slot = "yes"
				}
				table.Append([]string{strconv.Itoa(i), account.Hex(), units.Ether(balance), slot, indexes})
			}
			table.Render()

			fmt.Println("Registration fee:", units.Ether(fee))
			return nil
		},
	}
}
