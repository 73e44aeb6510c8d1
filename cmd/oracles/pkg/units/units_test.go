package units_test

import (
	"math/big"
	"testing"

	"github.com/flightsurety/oracle-server/cmd/oracles/pkg/units"
	"github.com/stretchr/testify/require"
)

func TestEther(t *testing.T) {
	oneEth := big.NewInt(1_000_000_000_000_000_000)

	require.Equal(t, "1 ETH", units.Ether(oneEth))
	require.Equal(t, "1,000 ETH", units.Ether(new(big.Int).Mul(oneEth, big.NewInt(1000))))
	require.Equal(t, "0.5 ETH", units.Ether(new(big.Int).Div(oneEth, big.NewInt(2))))
	require.Equal(t, "-", units.Ether(nil))
}
