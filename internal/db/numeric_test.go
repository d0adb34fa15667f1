package db

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumeric_Exact(t *testing.T) {
	tests := []struct {
		in   string
		coef int64
		exp  int32
	}{
		{"99.0196078431", 990196078431, -10},
		{"-50", -50, 0},
		{"0", 0, 0},
		{"0.0000000001", 1, -10},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n := Numeric(decimal.RequireFromString(tt.in))
			assert.True(t, n.Valid)
			assert.Equal(t, 0, n.Int.Cmp(big.NewInt(tt.coef)))
			assert.Equal(t, tt.exp, n.Exp)
		})
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal("case_amt", "100.0000000000")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(100)))

	d, err = ParseDecimal("case_amt", "")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = ParseDecimal("case_amt", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case_amt")
}
