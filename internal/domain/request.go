// Package domain defines the core types shared across the flasharb engine:
// arbitrage requests, loan contexts, settlement records, registry entries,
// emitted events, and the error taxonomy.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AdapterKind selects which trade-executor implementation handles a router.
type AdapterKind string

const (
	// AdapterAMMV2 is a constant-product (x*y=k) AMM router family.
	AdapterAMMV2 AdapterKind = "amm_v2"
	// AdapterOrderBook is an on-chain order-book DEX router family.
	AdapterOrderBook AdapterKind = "orderbook"
)

// RouterConfig is a whitelist entry for a DEX router. Kind selects the
// adapter used to trade through it.
type RouterConfig struct {
	Router  common.Address
	Kind    AdapterKind
	Enabled bool
}

// ArbitrageRequest describes one two-leg arbitrage attempt. It is constructed
// by the off-chain caller and immutable once submitted: leg 1 sells Amount of
// TokenIn for TokenOut on Router1, leg 2 sells the proceeds back for TokenIn
// on Router2. MinProfit is the caller's floor in TokenIn base units.
type ArbitrageRequest struct {
	TokenIn   common.Address
	TokenOut  common.Address
	Amount    *big.Int
	Router1   common.Address
	Router2   common.Address
	MinProfit *big.Int
}

// LoanContext is the transient record carried through the lending facility's
// callback. It is produced when a loan is requested and consumed exactly once
// by the settlement engine.
type LoanContext struct {
	Asset     common.Address
	Amount    *big.Int
	Fee       *big.Int
	Initiator common.Address
	Request   ArbitrageRequest
}
