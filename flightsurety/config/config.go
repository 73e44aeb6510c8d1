// Package config loads the oracle server settings from a TOML (or YAML) file
// layered over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/flightsurety/oracle-server/flightsurety/dispatcher"
	"github.com/flightsurety/oracle-server/flightsurety/ledger"
	"github.com/flightsurety/oracle-server/flightsurety/registrar"
	"github.com/flightsurety/oracle-server/flightsurety/service"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// RelativePath is the location of the config file below the XDG config
// directories.
var RelativePath = filepath.Join("flightsurety", "oracles.toml")

type Config struct {
	Node     Node     `toml:"node" yaml:"node"`
	Contract Contract `toml:"contract" yaml:"contract"`
	Oracles  Oracles  `toml:"oracles" yaml:"oracles"`
	Tx       Tx       `toml:"tx" yaml:"tx"`
	Dispatch Dispatch `toml:"dispatch" yaml:"dispatch"`
	API      API      `toml:"api" yaml:"api"`
	Journal  Journal  `toml:"journal" yaml:"journal"`
	Log      Log      `toml:"log" yaml:"log"`
}

type Node struct {
	// URL must be a websocket or IPC endpoint for event subscriptions.
	URL string `toml:"url" yaml:"url"`
}

type Contract struct {
	Address string `toml:"address" yaml:"address"`
	// Artifact is an optional truffle build artifact whose ABI replaces the
	// embedded one.
	Artifact string `toml:"artifact" yaml:"artifact"`
}

type Oracles struct {
	Offset int    `toml:"offset" yaml:"offset"`
	Count  int    `toml:"count" yaml:"count"`
	Commit string `toml:"commit" yaml:"commit"`
}

type Tx struct {
	Gas uint64 `toml:"gas" yaml:"gas"`
	// GasPrice is in wei, decimal or 0x-prefixed hex.
	GasPrice string  `toml:"gas_price" yaml:"gas_price"`
	Rate     float64 `toml:"rate" yaml:"rate"`
}

type Dispatch struct {
	Trigger string `toml:"trigger" yaml:"trigger"`
	Status  string `toml:"status" yaml:"status"`
	// History is where informational subscriptions start: genesis or latest.
	History string `toml:"history" yaml:"history"`
}

type API struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	Listen      string   `toml:"listen" yaml:"listen"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

type Journal struct {
	// Path of the SQLite journal. Empty disables journaling.
	Path string `toml:"path" yaml:"path"`
}

type Log struct {
	Verbosity  int    `toml:"verbosity" yaml:"verbosity"`
	Format     string `toml:"format" yaml:"format"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
}

// Default returns the settings of a local truffle/ganache development chain.
func Default() Config {
	return Config{
		Node: Node{URL: "ws://localhost:7545"},
		Oracles: Oracles{
			Offset: 5,
			Count:  2,
			Commit: string(registrar.CommitEach),
		},
		Tx: Tx{
			Gas:      999999,
			GasPrice: "200000000",
		},
		Dispatch: Dispatch{
			Trigger: string(service.TriggerRequest),
			Status:  "random",
			History: ledger.StartGenesis.String(),
		},
		API: API{
			Enabled: true,
			Listen:  ":3000",
		},
		Log: Log{
			Verbosity:  3,
			Format:     "terminal",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// DefaultPath returns the config file found in the XDG config directories, or
// an empty string when there is none.
func DefaultPath() string {
	path, err := xdg.SearchConfigFile(RelativePath)
	if err != nil {
		return ""
	}
	return path
}

// Load reads the file at path over the defaults. An empty path yields the
// defaults. Keys the file sets that Config does not know are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	default:
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("unknown keys in config %s: %s", path, strings.Join(keys, ", "))
		}
	}

	return cfg, nil
}

// Validate checks every setting and reports all problems at once.
func (c Config) Validate() error {
	var errs []error

	if c.Node.URL == "" {
		errs = append(errs, errors.New("node.url is required"))
	}
	if !common.IsHexAddress(c.Contract.Address) {
		errs = append(errs, fmt.Errorf("contract.address %q is not an address", c.Contract.Address))
	}
	if c.Oracles.Offset < 0 {
		errs = append(errs, fmt.Errorf("oracles.offset must not be negative, got %d", c.Oracles.Offset))
	}
	if c.Oracles.Count < 1 {
		errs = append(errs, fmt.Errorf("oracles.count must be at least 1, got %d", c.Oracles.Count))
	}
	if _, err := c.CommitPolicy(); err != nil {
		errs = append(errs, fmt.Errorf("oracles.commit: %w", err))
	}
	if _, err := c.GasPrice(); err != nil {
		errs = append(errs, fmt.Errorf("tx.gas_price: %w", err))
	}
	if c.Tx.Rate < 0 {
		errs = append(errs, fmt.Errorf("tx.rate must not be negative, got %v", c.Tx.Rate))
	}
	if _, err := c.Trigger(); err != nil {
		errs = append(errs, fmt.Errorf("dispatch.trigger: %w", err))
	}
	if _, err := c.StatusSource(); err != nil {
		errs = append(errs, fmt.Errorf("dispatch.status: %w", err))
	}
	if _, err := c.History(); err != nil {
		errs = append(errs, fmt.Errorf("dispatch.history: %w", err))
	}
	if c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, errors.New("api.listen is required when the API is enabled"))
	}
	if c.Log.Verbosity < 0 || c.Log.Verbosity > 5 {
		errs = append(errs, fmt.Errorf("log.verbosity must be between 0 and 5, got %d", c.Log.Verbosity))
	}
	if f := c.Log.Format; f != "terminal" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be terminal or json, got %q", f))
	}

	return errors.Join(errs...)
}

func (c Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract.Address)
}

func (c Config) CommitPolicy() (registrar.CommitPolicy, error) {
	return registrar.ParseCommitPolicy(c.Oracles.Commit)
}

// GasPrice returns nil when no gas price is configured.
func (c Config) GasPrice() (*big.Int, error) {
	s := strings.TrimSpace(c.Tx.GasPrice)
	if s == "" {
		return nil, nil
	}

	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = uint256.FromHex(s)
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid gas price %q: %w", s, err)
	}
	return v.ToBig(), nil
}

func (c Config) Trigger() (service.Trigger, error) {
	return service.ParseTrigger(c.Dispatch.Trigger)
}

func (c Config) StatusSource() (dispatcher.StatusSource, error) {
	return dispatcher.ParseStatusSource(c.Dispatch.Status)
}

func (c Config) History() (ledger.Start, error) {
	switch strings.ToLower(c.Dispatch.History) {
	case "", ledger.StartGenesis.String():
		return ledger.StartGenesis, nil
	case ledger.StartLatest.String():
		return ledger.StartLatest, nil
	}
	return 0, fmt.Errorf("unknown start %q, want genesis or latest", c.Dispatch.History)
}

// LedgerOptions returns the transaction settings for the ledger client.
func (c Config) LedgerOptions() (ledger.Options, error) {
	price, err := c.GasPrice()
	if err != nil {
		return ledger.Options{}, err
	}
	return ledger.Options{
		Gas:         c.Tx.Gas,
		GasPrice:    price,
		TxPerSecond: c.Tx.Rate,
	}, nil
}
