// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chain

import (
	"math/big"
)

// FeeData is the network's current fee signal. Either BaseFee and
// PriorityFee (dynamic model) or LegacyFee is set.
type FeeData struct {
	BaseFee     *big.Int
	PriorityFee *big.Int
	LegacyFee   *big.Int
}

// FeeParams are the escalated fee fields for one submission. Exactly one
// model is populated: GasTipCap and GasFeeCap, or GasPrice.
type FeeParams struct {
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasPrice  *big.Int
}

// Dynamic reports whether the params use the base-fee-plus-tip model.
func (p FeeParams) Dynamic() bool { return p.GasFeeCap != nil }

// Model names the fee model for logs and metrics.
func (p FeeParams) Model() string {
	if p.Dynamic() {
		return "dynamic"
	}
	return "legacy"
}

// MaxPerGas is the most the submission can pay per unit of gas.
func (p FeeParams) MaxPerGas() *big.Int {
	if p.Dynamic() {
		return p.GasFeeCap
	}
	return p.GasPrice
}

// FeePolicy escalates network fees to max(fee*Multiplier, Floor).
type FeePolicy struct {
	Multiplier int64
	Floor      *big.Int
}

// NewFeePolicy returns a policy; a multiplier below 1 is treated as 1 and
// a nil floor as zero.
func NewFeePolicy(multiplier int64, floor *big.Int) FeePolicy {
	if multiplier < 1 {
		multiplier = 1
	}
	if floor == nil {
		floor = new(big.Int)
	}
	return FeePolicy{Multiplier: multiplier, Floor: floor}
}

// Escalate returns max(x*Multiplier, Floor). A nil x yields the floor.
func (p FeePolicy) Escalate(x *big.Int) *big.Int {
	out := new(big.Int)
	if x != nil {
		out.Mul(x, big.NewInt(p.Multiplier))
	}
	if p.Floor != nil && out.Cmp(p.Floor) < 0 {
		out.Set(p.Floor)
	}
	return out
}

// Quote prefers the dynamic model when base and priority fee are known and
// falls back to the legacy price. The two models are never mixed.
func (p FeePolicy) Quote(fd FeeData) (FeeParams, error) {
	if fd.BaseFee != nil && fd.PriorityFee != nil {
		tip := p.Escalate(fd.PriorityFee)
		feeCap := new(big.Int).Add(p.Escalate(fd.BaseFee), tip)
		return FeeParams{GasTipCap: tip, GasFeeCap: feeCap}, nil
	}
	if fd.LegacyFee != nil {
		return FeeParams{GasPrice: p.Escalate(fd.LegacyFee)}, nil
	}
	return FeeParams{}, ErrNoFeeData
}
