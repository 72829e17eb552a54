package utils

import (
	"math"

	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// GweiToWei converts a fractional gwei amount as accepted on the command line.
func GweiToWei(gwei float64) *uint256.Int {
	if gwei <= 0 {
		return uint256.NewInt(0)
	}
	return uint256.NewInt(uint64(math.Round(gwei * params.GWei)))
}

func WeiToGwei(val *uint256.Int) *uint256.Int {
	if val == nil {
		return nil
	}
	return new(uint256.Int).Div(val, uint256.NewInt(params.GWei))
}
