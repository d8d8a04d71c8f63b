package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePesapal struct {
	tokenCalls   int32
	statusByRef  map[string]string
	lastSubmit   map[string]any
	submitStatus int
}

func (f *fakePesapal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Auth/RequestToken", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "key", body["consumer_key"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      "tok-1",
			"expiryDate": time.Now().Add(5 * time.Minute).UTC().Format(time.RFC3339Nano),
			"status":     "200",
		})
	})
	mux.HandleFunc("/api/Transactions/SubmitOrderRequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		if f.submitStatus != 0 {
			w.WriteHeader(f.submitStatus)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastSubmit))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order_tracking_id":  "track-1",
			"merchant_reference": f.lastSubmit["id"],
			"redirect_url":       "https://pay.example/checkout/track-1",
			"status":             "200",
		})
	})
	mux.HandleFunc("/api/Transactions/GetTransactionStatus", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		ref := r.URL.Query().Get("orderTrackingId")
		desc, ok := f.statusByRef[ref]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":  map[string]string{"code": "invalid_order_tracking_id", "message": "not found"},
				"status": "500",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"payment_status_description": desc,
			"amount":                     1300,
			"currency":                   "KES",
			"merchant_reference":         "ORD-1-abcd1234",
			"status":                     "200",
		})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakePesapal) *PesapalClient {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewPesapalClient(PesapalConfig{
		BaseURL:        srv.URL + "/",
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		NotificationID: "ipn-1",
		CallbackURL:    "https://flora.example/paid",
		Timeout:        2 * time.Second,
	})
}

func TestPesapalClient_CreateSession(t *testing.T) {
	f := &fakePesapal{}
	c := newTestClient(t, f)

	sess, err := c.CreateSession(context.Background(), SessionRequest{
		MerchantReference: "ORD-1-abcd1234",
		Amount:            decimal.NewFromInt(1300),
		Currency:          "KES",
		Description:       "Flora order 1",
		BuyerContact:      "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "track-1", sess.ProviderReference)
	assert.Equal(t, "https://pay.example/checkout/track-1", sess.RedirectURL)

	assert.Equal(t, "ORD-1-abcd1234", f.lastSubmit["id"])
	assert.EqualValues(t, 1300, f.lastSubmit["amount"])
	assert.Equal(t, "ipn-1", f.lastSubmit["notification_id"])
	billing, ok := f.lastSubmit["billing_address"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "buyer@example.com", billing["email_address"])
}

func TestPesapalClient_TokenIsReused(t *testing.T) {
	f := &fakePesapal{statusByRef: map[string]string{"track-1": "Completed"}}
	c := newTestClient(t, f)

	for i := 0; i < 3; i++ {
		_, err := c.GetSessionStatus(context.Background(), "track-1")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.tokenCalls))
}

func TestPesapalClient_GetSessionStatus(t *testing.T) {
	f := &fakePesapal{statusByRef: map[string]string{
		"done":    "Completed",
		"waiting": "",
		"bad":     "Failed",
	}}
	c := newTestClient(t, f)

	tests := []struct {
		ref  string
		want State
	}{
		{"done", StateCompleted},
		{"waiting", StatePending},
		{"bad", StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			st, err := c.GetSessionStatus(context.Background(), tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.State)
			assert.True(t, st.Amount.Equal(decimal.NewFromInt(1300)))
		})
	}

	_, err := c.GetSessionStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func TestPesapalClient_TransportError(t *testing.T) {
	f := &fakePesapal{submitStatus: http.StatusBadGateway}
	c := newTestClient(t, f)

	_, err := c.CreateSession(context.Background(), SessionRequest{MerchantReference: "ORD-1-x", Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)
}

func TestMapState(t *testing.T) {
	tests := []struct {
		in   string
		want State
	}{
		{"Completed", StateCompleted},
		{"payment received", StateCompleted},
		{"PENDING", StatePending},
		{"processing", StatePending},
		{"", StatePending},
		{"something new", StatePending},
		{"Failed", StateFailed},
		{"cancelled", StateFailed},
		{"INVALID", StateFailed},
		{"Reversed", StateFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapState(tt.in), tt.in)
	}
}
