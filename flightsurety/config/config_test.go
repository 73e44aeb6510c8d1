package config_test

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flightsurety/oracle-server/flightsurety/config"
	"github.com/flightsurety/oracle-server/flightsurety/dispatcher"
	"github.com/flightsurety/oracle-server/flightsurety/ledger"
	"github.com/flightsurety/oracle-server/flightsurety/registrar"
	"github.com/flightsurety/oracle-server/flightsurety/service"
	"github.com/stretchr/testify/require"
)

const appAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func write(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)

	require.Equal(t, "ws://localhost:7545", cfg.Node.URL)
	require.Equal(t, 5, cfg.Oracles.Offset)
	require.Equal(t, 2, cfg.Oracles.Count)

	opts, err := cfg.LedgerOptions()
	require.NoError(t, err)
	require.Equal(t, uint64(999999), opts.Gas)
	require.Equal(t, big.NewInt(200000000), opts.GasPrice)
	require.Zero(t, opts.TxPerSecond)

	// the contract address has no default
	require.ErrorContains(t, cfg.Validate(), "contract.address")

	cfg.Contract.Address = appAddress
	require.NoError(t, cfg.Validate())

	trigger, err := cfg.Trigger()
	require.NoError(t, err)
	require.Equal(t, service.TriggerRequest, trigger)

	status, err := cfg.StatusSource()
	require.NoError(t, err)
	require.IsType(t, dispatcher.RandomStatus{}, status)

	history, err := cfg.History()
	require.NoError(t, err)
	require.Equal(t, ledger.StartGenesis, history)
}

func TestLoadTOML(t *testing.T) {
	path := write(t, "oracles.toml", `
[node]
url = "ws://127.0.0.1:8546"

[contract]
address = "`+appAddress+`"

[oracles]
offset = 10
count = 20
commit = "all"

[tx]
gas_price = "0x3b9aca00"
rate = 5.0

[dispatch]
trigger = "response"
status = "20"
history = "latest"

[api]
cors_origins = ["http://localhost:8000"]

[journal]
path = "/var/lib/flightsurety/journal.db"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "ws://127.0.0.1:8546", cfg.Node.URL)
	require.Equal(t, common.HexToAddress(appAddress), cfg.ContractAddress())
	require.Equal(t, 10, cfg.Oracles.Offset)
	require.Equal(t, 20, cfg.Oracles.Count)

	policy, err := cfg.CommitPolicy()
	require.NoError(t, err)
	require.Equal(t, registrar.CommitAll, policy)

	// untouched keys keep their defaults
	require.Equal(t, uint64(999999), cfg.Tx.Gas)
	require.Equal(t, ":3000", cfg.API.Listen)
	require.True(t, cfg.API.Enabled)
	require.Equal(t, []string{"http://localhost:8000"}, cfg.API.CORSOrigins)

	price, err := cfg.GasPrice()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000_000), price)

	status, err := cfg.StatusSource()
	require.NoError(t, err)
	require.Equal(t, dispatcher.FixedStatus(20), status)

	history, err := cfg.History()
	require.NoError(t, err)
	require.Equal(t, ledger.StartLatest, history)
}

func TestLoadYAML(t *testing.T) {
	path := write(t, "oracles.yaml", `
contract:
  address: "`+appAddress+`"
oracles:
  count: 3
log:
  format: json
  verbosity: 4
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, 3, cfg.Oracles.Count)
	require.Equal(t, 5, cfg.Oracles.Offset)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, 4, cfg.Log.Verbosity)
}

func TestUnknownKeysAreRejected(t *testing.T) {
	_, err := config.Load(write(t, "oracles.toml", `
[oracles]
cout = 3
`))
	require.ErrorContains(t, err, "oracles.cout")

	_, err = config.Load(write(t, "oracles.yml", `
api:
  port: 3000
`))
	require.ErrorContains(t, err, "port")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := config.Default()
	cfg.Node.URL = ""
	cfg.Contract.Address = "0x1234"
	cfg.Oracles.Count = 0
	cfg.Oracles.Commit = "rollback"
	cfg.Tx.GasPrice = "cheap"
	cfg.Dispatch.Trigger = "report"
	cfg.Dispatch.Status = "35"
	cfg.Dispatch.History = "yesterday"
	cfg.Log.Verbosity = 9
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	for _, field := range []string{
		"node.url",
		"contract.address",
		"oracles.count",
		"oracles.commit",
		"tx.gas_price",
		"dispatch.trigger",
		"dispatch.status",
		"dispatch.history",
		"log.verbosity",
		"log.format",
	} {
		require.ErrorContains(t, err, field)
	}
}

func TestEmptyGasPriceLeavesChoiceToNode(t *testing.T) {
	cfg := config.Default()
	cfg.Tx.GasPrice = ""

	price, err := cfg.GasPrice()
	require.NoError(t, err)
	require.Nil(t, price)
}
