package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderPrice(t *testing.T) {
	tests := []struct {
		rate     string
		quantity int
		want     string
	}{
		{"9.99", 1000, "9.99"},
		{"9.99", 100, "0.999"},
		{"0.99", 10000, "9.9"},
		{"1.49", 500, "0.745"},
		{"2.00", 250, "0.5"},
	}
	for _, tt := range tests {
		got := OrderPrice(decimal.RequireFromString(tt.rate), tt.quantity)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
			"OrderPrice(%s, %d) = %s, want %s", tt.rate, tt.quantity, got, tt.want)
	}
}

func TestTerminalStatus(t *testing.T) {
	assert.False(t, TerminalStatus(OrderPending))
	assert.False(t, TerminalStatus(OrderInProgress))
	assert.True(t, TerminalStatus(OrderCompleted))
	assert.True(t, TerminalStatus(OrderCanceled))
	assert.True(t, TerminalStatus(OrderFailed))
	assert.False(t, TerminalStatus("unknown"))
}
