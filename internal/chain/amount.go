// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

var weiPerEther = new(big.Int).SetUint64(params.Ether)

// ParseAmount converts a decimal amount of the native token ("0.5") to wei.
// Digits beyond 18 decimals are truncated.
func ParseAmount(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerEther))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

// FormatAmount renders wei as a decimal amount without trailing zeros.
func FormatAmount(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	s := new(big.Rat).SetFrac(wei, weiPerEther).FloatString(18)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// AmountFloat is a lossy conversion for gauges.
func AmountFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(wei, weiPerEther).Float64()
	return f
}

// GweiFloat is a lossy conversion for fee gauges.
func GweiFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(wei, new(big.Int).SetUint64(params.GWei)).Float64()
	return f
}

// Gwei returns n gwei in wei.
func Gwei(n uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(n), new(big.Int).SetUint64(params.GWei))
}
