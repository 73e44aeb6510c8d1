package flights

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/flightsurety/oracle-server/flightsurety/flights"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

func Flights() *cli.Command {
	cfg := struct {
		json bool
	}{}
	return &cli.Command{
		Name:  "flights",
		Usage: "List the flights offered to the dapp",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "Print the list as served by /flights",
				Destination: &cfg.json,
			},
		},
		Action: func(c *cli.Context) error {
			if cfg.json {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(flights.All())
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Flight"})
			for _, f := range flights.All() {
				table.Append([]string{strconv.Itoa(f.ID), f.Name})
			}
			table.Render()
			return nil
		},
	}
}
