// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscalate(t *testing.T) {
	p := NewFeePolicy(2, big.NewInt(5))
	tests := []struct {
		name  string
		quote *big.Int
		want  int64
	}{
		{"doubled above floor", big.NewInt(10), 20},
		{"floor wins", big.NewInt(1), 5},
		{"just above floor", big.NewInt(3), 6},
		{"nil quote yields floor", nil, 5},
		{"zero quote yields floor", big.NewInt(0), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, big.NewInt(tt.want), p.Escalate(tt.quote))
		})
	}
}

func TestEscalateDoesNotMutateInput(t *testing.T) {
	in := big.NewInt(10)
	NewFeePolicy(2, nil).Escalate(in)
	assert.Equal(t, big.NewInt(10), in)
}

func TestNewFeePolicyNormalises(t *testing.T) {
	p := NewFeePolicy(0, nil)
	assert.Equal(t, int64(1), p.Multiplier)
	assert.Equal(t, big.NewInt(7), p.Escalate(big.NewInt(7)))
}

func TestQuoteDynamicModel(t *testing.T) {
	p := NewFeePolicy(2, Gwei(30))
	fee, err := p.Quote(FeeData{BaseFee: Gwei(50), PriorityFee: Gwei(1), LegacyFee: Gwei(999)})
	require.NoError(t, err)

	assert.True(t, fee.Dynamic())
	assert.Equal(t, "dynamic", fee.Model())
	assert.Nil(t, fee.GasPrice, "models are never mixed")
	assert.Equal(t, Gwei(30), fee.GasTipCap)
	assert.Equal(t, Gwei(130), fee.GasFeeCap)
	assert.Equal(t, fee.GasFeeCap, fee.MaxPerGas())
}

func TestQuoteLegacyModel(t *testing.T) {
	p := NewFeePolicy(2, Gwei(30))
	fee, err := p.Quote(FeeData{BaseFee: Gwei(50), LegacyFee: Gwei(40)})
	require.NoError(t, err)

	assert.False(t, fee.Dynamic())
	assert.Nil(t, fee.GasTipCap)
	assert.Nil(t, fee.GasFeeCap)
	assert.Equal(t, Gwei(80), fee.GasPrice)
}

func TestQuoteNoData(t *testing.T) {
	_, err := NewFeePolicy(2, nil).Quote(FeeData{})
	assert.ErrorIs(t, err, ErrNoFeeData)
}
