package units

import (
	"math/big"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/params"
)

func EthToFloat(n *big.Int) float64 {
	f := new(big.Rat).SetFrac(n, big.NewInt(params.Ether))
	res, _ := f.Float64()
	return res
}

// Ether formats a wei amount as ETH with thousands separators.
func Ether(n *big.Int) string {
	if n == nil {
		return "-"
	}
	return humanize.Commaf(EthToFloat(n)) + " ETH"
}
