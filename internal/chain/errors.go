// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chain

import (
	"errors"
	"strings"
)

// balanceMarkers are node error fragments that mean the funding account
// cannot pay for the transaction.
var balanceMarkers = []string{
	"insufficient funds",
	"insufficient balance",
	"gas required exceeds allowance",
	"out of gas",
}

// IsBalanceError reports whether err indicates the funding account ran dry.
func IsBalanceError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInsufficientFunds) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range balanceMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
