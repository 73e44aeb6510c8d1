package showconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/settings"
	"github.com/urfave/cli/v2"
)

func ShowConfig() *cli.Command {
	s := &settings.Settings{}
	return &cli.Command{
		Name:  "config",
		Usage: "Print the resolved configuration as TOML",
		Flags: append(s.Flags(), s.OracleFlags()...),
		Action: func(c *cli.Context) error {
			conf, err := s.Load(c)
			if err != nil {
				return err
			}

			err = toml.NewEncoder(os.Stdout).Encode(conf)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}

			if err := conf.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, "warning: config is not valid:", err)
			}
			return nil
		},
	}
}
