package evm

import (
	"math"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stcchain/evmpay"
)

func TestCalculateTokenAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{
			name:     "eighteen decimals",
			amount:   "19.99",
			decimals: 18,
			want:     "19990000000000000000",
		},
		{
			name:     "six decimals",
			amount:   "100",
			decimals: 6,
			want:     "100000000",
		},
		{
			name:     "zero decimals truncates cents",
			amount:   "19.99",
			decimals: 0,
			want:     "19",
		},
		{
			name:     "one decimal truncates",
			amount:   "0.05",
			decimals: 1,
			want:     "0",
		},
		{
			name:     "two decimals is exact cents",
			amount:   "0.01",
			decimals: 2,
			want:     "1",
		},
		{
			name:     "rounds half cent up",
			amount:   "0.005",
			decimals: 2,
			want:     "1",
		},
		{
			name:     "drops sub-cent remainder",
			amount:   "1.004",
			decimals: 6,
			want:     "1000000",
		},
		{
			name:     "zero amount",
			amount:   "0",
			decimals: 18,
			want:     "0",
		},
		{
			name:     "negative amount",
			amount:   "-1",
			decimals: 18,
			wantErr:  true,
		},
		{
			name:     "decimals above range",
			amount:   "1",
			decimals: 19,
			wantErr:  true,
		},
		{
			name:     "negative decimals",
			amount:   "1",
			decimals: -1,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateTokenAmount(decimal.RequireFromString(tt.amount), tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, evmpay.ErrCodeInvalidAmount, evmpay.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateTokenAmountFloat(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		decimals int
		want     string
		wantErr  bool
	}{
		{name: "eighteen decimals", amount: 19.99, decimals: 18, want: "19990000000000000000"},
		{name: "float rounding of 1.005", amount: 1.005, decimals: 2, want: "100"},
		{name: "large amount", amount: 1234567.89, decimals: 18, want: "1234567890000000000000000"},
		{name: "NaN", amount: math.NaN(), decimals: 18, wantErr: true},
		{name: "infinity", amount: math.Inf(1), decimals: 18, wantErr: true},
		{name: "negative", amount: -0.01, decimals: 18, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateTokenAmountFloat(tt.amount, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, evmpay.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateTokenAmountIsOrderPreserving(t *testing.T) {
	prev := big.NewInt(-1)
	for cents := int64(0); cents <= 500; cents++ {
		got, err := CalculateTokenAmount(decimal.New(cents, -2), 6)
		require.NoError(t, err)
		value, ok := new(big.Int).SetString(got, 10)
		require.True(t, ok)
		if value.Cmp(prev) < 0 {
			t.Fatalf("amount for %d cents = %s, smaller than previous %s", cents, value, prev)
		}
		prev = value
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     *big.Int
		wantErr  bool
	}{
		{
			name:     "whole number",
			amount:   "100",
			decimals: 6,
			want:     big.NewInt(100000000),
		},
		{
			name:     "decimal amount",
			amount:   "1.5",
			decimals: 6,
			want:     big.NewInt(1500000),
		},
		{
			name:     "small decimal",
			amount:   "0.000001",
			decimals: 6,
			want:     big.NewInt(1),
		},
		{
			name:     "truncate extra decimals",
			amount:   "1.1234567",
			decimals: 6,
			want:     big.NewInt(1123456),
		},
		{
			name:     "leading dot",
			amount:   ".5",
			decimals: 2,
			want:     big.NewInt(50),
		},
		{
			name:     "invalid format",
			amount:   "1.2.3",
			decimals: 6,
			wantErr:  true,
		},
		{
			name:     "not a number",
			amount:   "abc",
			decimals: 6,
			wantErr:  true,
		},
		{
			name:     "negative",
			amount:   "-1",
			decimals: 6,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.amount, tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAmount() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Cmp(tt.want) != 0 {
				t.Errorf("ParseAmount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   *big.Int
		decimals int
		want     string
	}{
		{name: "whole number", amount: big.NewInt(1000000), decimals: 6, want: "1"},
		{name: "with decimals", amount: big.NewInt(1500000), decimals: 6, want: "1.5"},
		{name: "small amount", amount: big.NewInt(1), decimals: 6, want: "0.000001"},
		{name: "zero", amount: big.NewInt(0), decimals: 6, want: "0"},
		{name: "nil amount", amount: nil, decimals: 6, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatAmount(tt.amount, tt.decimals)
			if got != tt.want {
				t.Errorf("FormatAmount() = %v, want %v", got, tt.want)
			}
		})
	}
}
