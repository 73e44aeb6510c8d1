// Package settings resolves the configuration shared by the oracle commands:
// the config file, overridden by flags and environment variables.
package settings

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/flightsurety/oracle-server/flightsurety/config"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/flightsurety/oracle-server/flightsurety/ledger"
	"github.com/urfave/cli/v2"
)

type Settings struct {
	configPath string
	nodeURL    string
	contract   string
	artifact   string
	verbosity  int
	logFormat  string
	logFile    string

	offset int
	count  int
	commit string
	txRate float64
}

// Flags returns the flags every command that talks to the node accepts.
func (s *Settings) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Path of the TOML or YAML config file",
			Value:       config.DefaultPath(),
			EnvVars:     []string{"ORACLES_CONFIG"},
			Destination: &s.configPath,
		},
		&cli.StringFlag{
			Name:        "node-url",
			Usage:       "The websocket URL of the node to connect to",
			EnvVars:     []string{"NODE_URL"},
			Destination: &s.nodeURL,
		},
		&cli.StringFlag{
			Name:        "contract",
			Usage:       "Address of the FlightSurety application contract",
			EnvVars:     []string{"CONTRACT_ADDRESS"},
			Destination: &s.contract,
		},
		&cli.StringFlag{
			Name:        "artifact",
			Usage:       "Truffle build artifact of the application contract",
			EnvVars:     []string{"CONTRACT_ARTIFACT"},
			Destination: &s.artifact,
		},
		&cli.IntFlag{
			Name:        "verbosity",
			Usage:       "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
			EnvVars:     []string{"ORACLES_VERBOSITY"},
			Destination: &s.verbosity,
		},
		&cli.StringFlag{
			Name:        "log.format",
			Usage:       "Log format: terminal or json",
			EnvVars:     []string{"ORACLES_LOG_FORMAT"},
			Destination: &s.logFormat,
		},
		&cli.StringFlag{
			Name:        "log.file",
			Usage:       "Write logs to a rotated file instead of stderr",
			EnvVars:     []string{"ORACLES_LOG_FILE"},
			Destination: &s.logFile,
		},
	}
}

// OracleFlags returns the flags selecting the node accounts used as oracles.
func (s *Settings) OracleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Index of the first node account used as an oracle",
			EnvVars:     []string{"ORACLES_OFFSET"},
			Destination: &s.offset,
		},
		&cli.IntFlag{
			Name:        "count",
			Usage:       "Number of oracles to register",
			EnvVars:     []string{"ORACLES_COUNT"},
			Destination: &s.count,
		},
		&cli.StringFlag{
			Name:        "commit",
			Usage:       "When registered oracles enter the pool: each or all",
			EnvVars:     []string{"ORACLES_COMMIT"},
			Destination: &s.commit,
		},
		&cli.Float64Flag{
			Name:        "tx.rate",
			Usage:       "Maximum transactions per second, 0 for unlimited",
			EnvVars:     []string{"ORACLES_TX_RATE"},
			Destination: &s.txRate,
		},
	}
}

// Load reads the config file and applies the flags that were set.
func (s *Settings) Load(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("node-url") {
		cfg.Node.URL = s.nodeURL
	}
	if c.IsSet("contract") {
		cfg.Contract.Address = s.contract
	}
	if c.IsSet("artifact") {
		cfg.Contract.Artifact = s.artifact
	}
	if c.IsSet("verbosity") {
		cfg.Log.Verbosity = s.verbosity
	}
	if c.IsSet("log.format") {
		cfg.Log.Format = s.logFormat
	}
	if c.IsSet("log.file") {
		cfg.Log.File = s.logFile
	}
	if c.IsSet("offset") {
		cfg.Oracles.Offset = s.offset
	}
	if c.IsSet("count") {
		cfg.Oracles.Count = s.count
	}
	if c.IsSet("commit") {
		cfg.Oracles.Commit = s.commit
	}
	if c.IsSet("tx.rate") {
		cfg.Tx.Rate = s.txRate
	}

	return cfg, nil
}

// Connect loads the contract binding and dials the node.
func Connect(ctx context.Context, cfg config.Config, logger log.Logger) (*ledger.Client, *contract.Binding, error) {
	binding := contract.Default()
	if cfg.Contract.Artifact != "" {
		var err error
		binding, err = contract.LoadArtifact(cfg.Contract.Artifact)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load contract artifact: %w", err)
		}
	}

	opts, err := cfg.LedgerOptions()
	if err != nil {
		return nil, nil, err
	}

	client, err := ledger.Dial(ctx, cfg.Node.URL, cfg.ContractAddress(), binding, opts, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, binding, nil
}
