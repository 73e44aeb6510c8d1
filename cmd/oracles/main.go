package main

import (
	"log"
	"os"

	"github.com/flightsurety/oracle-server/cmd/oracles/accounts"
	"github.com/flightsurety/oracle-server/cmd/oracles/flights"
	"github.com/flightsurety/oracle-server/cmd/oracles/register"
	"github.com/flightsurety/oracle-server/cmd/oracles/serve"
	"github.com/flightsurety/oracle-server/cmd/oracles/showconfig"
	"github.com/flightsurety/oracle-server/cmd/oracles/watch"
	"github.com/urfave/cli/v2"

	// Automatically set GOMAXPROCS to match Linux container CPU quota.
	_ "go.uber.org/automaxprocs"
)

func main() {

	app := &cli.App{
		Name:  "oracles",
		Usage: "FlightSurety oracle server",

		Commands: []*cli.Command{
			serve.Serve(),
			register.Register(),
			watch.Watch(),
			accounts.Accounts(),
			flights.Flights(),
			showconfig.ShowConfig(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
