package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"bad conn", driver.ErrBadConn, true},
		{"conn done", fmt.Errorf("failed to commit transaction: %w", sql.ErrConnDone), true},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"deadlock", &pq.Error{Code: "40P01"}, true},
		{"lock not available", &pq.Error{Code: "55P03"}, true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"syntax error", &pq.Error{Code: "42601"}, false},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(nil))
}

func TestSchemasEmbedded(t *testing.T) {
	assert.Contains(t, string(OrdersSchema), "CREATE TABLE IF NOT EXISTS orders")
	assert.Contains(t, string(OrdersSchema), "outbox_messages")
	assert.NotContains(t, string(OrdersSchema), "inbox_messages")

	assert.Contains(t, string(PaymentsSchema), "CREATE TABLE IF NOT EXISTS accounts")
	assert.Contains(t, string(PaymentsSchema), "inbox_messages")
	assert.Contains(t, string(PaymentsSchema), "WHERE is_published = FALSE")
}
