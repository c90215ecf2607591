package chain

import (
	pcrypto "github.com/playergold/node/crypto"
)

// SystemAddresses holds the three designated addresses derived once at
// genesis, per spec.md §3.
type SystemAddresses struct {
	LiquidityPool string `json:"liquidity_pool"`
	Burn          string `json:"burn"`
	Developer     string `json:"developer"`
}

const (
	labelLiquidityPool = "LIQUIDITY_POOL"
	labelBurn          = "BURN_ADDRESS"
	labelDeveloper     = "DEVELOPER"
)

// DeriveSystemAddresses derives the three system addresses
// deterministically from their fixed labels, per spec.md §4.1. It
// returns the addresses plus the developer keypair, whose recovery
// material the bootstrap manager persists once.
func DeriveSystemAddresses() (SystemAddresses, *pcrypto.Keypair) {
	_, pool := pcrypto.SystemAddress(labelLiquidityPool)
	_, burn := pcrypto.SystemAddress(labelBurn)
	devKeypair, dev := pcrypto.SystemAddress(labelDeveloper)

	return SystemAddresses{
		LiquidityPool: pool,
		Burn:          burn,
		Developer:     dev,
	}, devKeypair
}

// FeeDistribution is the three-way fee split of spec.md §3, updated by
// the halving engine (C13).
type FeeDistribution struct {
	Burn      float64 `json:"burn"`
	Developer float64 `json:"developer"`
	Liquidity float64 `json:"liquidity"`
}

// InitialFeeDistribution is the fallback distribution used when no
// valid persisted distribution is found, per spec.md §4.12.
func InitialFeeDistribution() FeeDistribution {
	return FeeDistribution{Burn: 0.60, Developer: 0.30, Liquidity: 0.10}
}

// Valid checks the sum-to-1-within-1e-3 invariant of spec.md §3/§4.12.
func (f FeeDistribution) Valid() bool {
	sum := f.Burn + f.Developer + f.Liquidity
	const eps = 1e-3
	return sum > 1-eps && sum < 1+eps &&
		f.Burn >= 0 && f.Developer >= 0 && f.Liquidity >= 0
}
