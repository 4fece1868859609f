package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
)

// CallbackTokenParam is the query parameter carrying the callback secret.
const CallbackTokenParam = "token"

// SignedCallbackURL adds secret to base so Daraja echoes it back on every callback.
func SignedCallbackURL(base, secret string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("mpesa: callback url: %w", err)
	}
	q := u.Query()
	q.Set(CallbackTokenParam, secret)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CallbackResult is the outcome Daraja posts to the STK callback URL.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string

	Amount          float64
	Receipt         string
	TransactionDate string
	Phone           string
}

func (r *CallbackResult) Succeeded() bool {
	return r.ResultCode == 0
}

type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value,omitempty"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes an STK callback body.
func ParseCallback(r io.Reader) (*CallbackResult, error) {
	dec := json.NewDecoder(io.LimitReader(r, 1<<20))
	dec.UseNumber()

	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("mpesa: decode callback: %w", err)
	}

	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, errors.New("mpesa: callback missing CheckoutRequestID")
	}
	code, err := strconv.Atoi(cb.ResultCode.String())
	if err != nil {
		return nil, fmt.Errorf("mpesa: callback ResultCode %q", cb.ResultCode)
	}

	result := &CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if f, err := strconv.ParseFloat(scalar(item.Value), 64); err == nil {
				result.Amount = f
			}
		case "MpesaReceiptNumber":
			result.Receipt = scalar(item.Value)
		case "TransactionDate":
			result.TransactionDate = scalar(item.Value)
		case "PhoneNumber":
			result.Phone = scalar(item.Value)
		}
	}
	return result, nil
}

func scalar(v interface{}) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
