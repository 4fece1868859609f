package mpesa

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://shop.example.com/payments/mpesa/callback",
		BaseURL:        srv.URL,
	})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC) }
	return c
}

func TestSTKPush(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body stkPushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, uint64(174379), body.BusinessShortCode)
		assert.Equal(t, "20260504123000", body.Timestamp)
		assert.Equal(t, Password("174379", "passkey", "20260504123000"), body.Password)
		assert.Equal(t, "CustomerPayBillOnline", body.TransactionType)
		assert.Equal(t, uint64(311), body.Amount)
		assert.Equal(t, uint64(254712345678), body.PhoneNumber)
		assert.Equal(t, body.PhoneNumber, body.PartyA)
		assert.Equal(t, "ORD-20260504", body.AccountReference)

		_, _ = w.Write([]byte(`{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success","CustomerMessage":"Success. Request accepted for processing"}`))
	})

	c := newTestClient(t, mux)

	for i := 0; i < 2; i++ {
		res, err := c.STKPush(t.Context(), STKPushInput{
			Phone:            "254712345678",
			Amount:           310.17,
			AccountReference: "ORD-20260504-ABCDEF",
			Description:      "Order payment",
		})
		require.NoError(t, err)
		assert.Equal(t, "ws_CO_1", res.CheckoutRequestID)
		assert.Equal(t, "m-1", res.MerchantRequestID)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestSTKPushRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestId":"r","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`))
	})

	c := newTestClient(t, mux)
	_, err := c.STKPush(t.Context(), STKPushInput{Phone: "254712345678", Amount: 10})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "400.002.02", apiErr.Code)
}

func TestSTKPushInputErrors(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())

	_, err := c.STKPush(t.Context(), STKPushInput{Phone: "+2547", Amount: 10})
	assert.Error(t, err)

	_, err = c.STKPush(t.Context(), STKPushInput{Phone: "254712345678", Amount: 0})
	assert.Error(t, err)

	_, err = NewClient(Config{ShortCode: "abc"})
	assert.Error(t, err)
}

func TestParseCallbackSuccess(t *testing.T) {
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":1.00},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"Balance"},{"Name":"TransactionDate","Value":20191219102115},{"Name":"PhoneNumber","Value":254708374149}]}}}}`

	res, err := ParseCallback(strings.NewReader(body))
	require.NoError(t, err)

	assert.True(t, res.Succeeded())
	assert.Equal(t, "ws_CO_191220191020363925", res.CheckoutRequestID)
	assert.Equal(t, 1.0, res.Amount)
	assert.Equal(t, "NLJ7RT61SV", res.Receipt)
	assert.Equal(t, "20191219102115", res.TransactionDate)
	assert.Equal(t, "254708374149", res.Phone)
}

func TestParseCallbackFailure(t *testing.T) {
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":"ws_CO_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`

	res, err := ParseCallback(strings.NewReader(body))
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, 1032, res.ResultCode)
	assert.Equal(t, "Request cancelled by user", res.ResultDesc)
	assert.Empty(t, res.Receipt)

	_, err = ParseCallback(strings.NewReader(`{"Body":{}}`))
	assert.Error(t, err)

	_, err = ParseCallback(strings.NewReader(`not json`))
	assert.Error(t, err)
}

func TestSignedCallbackURL(t *testing.T) {
	got, err := SignedCallbackURL("https://shop.example.com/payments/mpesa/callback?src=daraja", "s3cr3t/+=")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/payments/mpesa/callback?src=daraja&token=s3cr3t%2F%2B%3D", got)

	_, err = SignedCallbackURL("://bad", "s3cr3t")
	assert.Error(t, err)
}
