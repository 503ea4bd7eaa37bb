package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"two decimals", "150.00", false},
		{"integer", "60", false},
		{"smallest unit", "0.01", false},
		{"zero", "0", true},
		{"negative", "-5.00", true},
		{"three decimals", "1.005", true},
		{"too many digits", "10000000000000000.00", true},
		{"largest allowed", "9999999999999999.99", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDescription(t *testing.T) {
	assert.NoError(t, ValidateDescription("book"))
	assert.NoError(t, ValidateDescription(strings.Repeat("я", 255)))
	assert.ErrorIs(t, ValidateDescription(""), ErrInvalidDescription)
	assert.ErrorIs(t, ValidateDescription(strings.Repeat("a", 256)), ErrInvalidDescription)
}

func TestTargetStatus(t *testing.T) {
	assert.Equal(t, OrderStatusFinished, OrderStatusUpdate{Status: PaymentStatusSuccess}.TargetStatus())
	assert.Equal(t, OrderStatusCancelled, OrderStatusUpdate{Status: PaymentStatusFail}.TargetStatus())
	assert.Equal(t, OrderStatusCancelled, OrderStatusUpdate{Status: "whatever"}.TargetStatus())
}

func TestOrderStatusIsTerminal(t *testing.T) {
	assert.False(t, OrderStatusNew.IsTerminal())
	assert.True(t, OrderStatusFinished.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
}

func TestNewOutboxMessage(t *testing.T) {
	msg, err := NewOutboxMessage(TopicOrderCreated, OrderCreatedEvent{
		OrderID: 7,
		UserID:  1,
		Amount:  decimal.RequireFromString("150.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, TopicOrderCreated, msg.Topic)
	assert.False(t, msg.IsPublished)
	assert.NotEqual(t, uuid.Nil, msg.ID)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Payload, &body))
	assert.Equal(t, float64(7), body["order_id"])
	assert.Equal(t, float64(1), body["user_id"])
	assert.True(t, decimal.RequireFromString(body["amount"].(string)).Equal(decimal.NewFromInt(150)))
}
