package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key_id", user)
		assert.Equal(t, "key_secret", pass)

		var req OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(99900), req.Amount)
		assert.Equal(t, "INR", req.Currency)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_abc","amount":99900,"currency":"INR","status":"created"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/", KeyID: "key_id", KeySecret: "key_secret", Timeout: time.Second})
	order, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 99900, Currency: "INR", Receipt: "r-1"})
	require.NoError(t, err)
	assert.Equal(t, "order_abc", order.ID)
	assert.Equal(t, int64(99900), order.Amount)
}

func TestClientCreateOrderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"SERVER_ERROR","description":"upstream down"}}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClientCreateOrderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: url, Timeout: 500 * time.Millisecond})
	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientVerifyPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments/verify", r.URL.Path)
		var req VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		switch req.Signature {
		case "good":
			_, _ = w.Write([]byte(`{"success":true,"message":"verified"}`))
		case "bad":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"message":"signature mismatch"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})

	ok, err := client.VerifyPayment(context.Background(), VerifyRequest{OrderID: "o", PaymentID: "p", Signature: "good", CourseID: "c"})
	require.NoError(t, err)
	assert.True(t, ok.Success)

	bad, err := client.VerifyPayment(context.Background(), VerifyRequest{OrderID: "o", PaymentID: "p", Signature: "bad", CourseID: "c"})
	require.NoError(t, err)
	assert.False(t, bad.Success)
	assert.Equal(t, "signature mismatch", bad.Message)

	_, err = client.VerifyPayment(context.Background(), VerifyRequest{OrderID: "o", PaymentID: "p", Signature: "other", CourseID: "c"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
