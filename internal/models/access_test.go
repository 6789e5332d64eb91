package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func mustDate(t *testing.T, raw string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return ts
}

func TestDecideBatchAccess(t *testing.T) {
	batch := Batch{ID: "b1", StartDate: mustDate(t, "2025-02-01"), EndDate: mustDate(t, "2025-03-01"), Capacity: 10}

	cases := []struct {
		name       string
		now        time.Time
		accessible bool
		reason     AccessReason
	}{
		{"before start", mustDate(t, "2025-01-15"), false, AccessReasonNotStarted},
		{"at start", batch.StartDate, true, AccessReasonInWindow},
		{"inside", mustDate(t, "2025-02-14"), true, AccessReasonInWindow},
		{"at end", batch.EndDate, true, AccessReasonInWindow},
		{"after end", mustDate(t, "2025-03-15"), false, AccessReasonEnded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := DecideBatchAccess(batch, tc.now)
			assert.Equal(t, tc.accessible, decision.Accessible)
			assert.Equal(t, tc.reason, decision.Reason)
			assert.NotEmpty(t, decision.Message)
			assert.Contains(t, decision.Message, "2025-03-01")
			assert.Equal(t, batch.StartDate, *decision.StartDate)
			assert.Equal(t, batch.EndDate, *decision.EndDate)
		})
	}
}

func TestOpenAccess(t *testing.T) {
	decision := OpenAccess()
	assert.True(t, decision.Accessible)
	assert.Equal(t, AccessReasonOpen, decision.Reason)
	assert.NotEmpty(t, decision.Message)
	assert.Nil(t, decision.StartDate)
}

func TestBatchValidate(t *testing.T) {
	start := mustDate(t, "2025-02-01")
	assert.NoError(t, Batch{StartDate: start, EndDate: start, Capacity: 1}.Validate())
	assert.Error(t, Batch{StartDate: start, EndDate: start.Add(-time.Hour), Capacity: 1}.Validate())
	assert.Error(t, Batch{StartDate: start, EndDate: start, Capacity: 0}.Validate())
	assert.False(t, Batch{Capacity: 2, EnrolledCount: 2}.HasAvailableSlots())
	assert.True(t, Batch{Capacity: 2, EnrolledCount: 1}.HasAvailableSlots())
}

func TestCourseAmountMinor(t *testing.T) {
	assert.Equal(t, int64(99900), Course{Price: decimal.NewFromInt(999)}.AmountMinor())
	assert.Equal(t, int64(49950), Course{Price: decimal.RequireFromString("499.50")}.AmountMinor())
	assert.True(t, Course{Price: decimal.Zero}.IsFree())
	assert.False(t, Course{Price: decimal.NewFromInt(1)}.IsFree())
}

func TestPaymentStatusAndPendingOrder(t *testing.T) {
	assert.True(t, PaymentStatusRefunded.Valid())
	assert.False(t, PaymentStatus("cancelled").Valid())
	assert.True(t, PaymentStatusCompleted.GrantsAccess())
	assert.False(t, PaymentStatusPending.GrantsAccess())

	orderID, currency, amount := "order_abc", "INR", int64(99900)
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	e := Enrollment{PaymentStatus: PaymentStatusPending, OrderID: &orderID, OrderAmount: &amount, OrderCurrency: &currency, OrderCreatedAt: &created}
	order := e.PendingOrder()
	if assert.NotNil(t, order) {
		assert.Equal(t, PaymentOrder{ID: orderID, Amount: amount, Currency: currency, CreatedAt: created}, *order)
		assert.False(t, order.Expired(created.Add(10*time.Minute), 15*time.Minute))
		assert.True(t, order.Expired(created.Add(16*time.Minute), 15*time.Minute))
	}

	e.PaymentStatus = PaymentStatusFailed
	assert.Nil(t, e.PendingOrder())
}
