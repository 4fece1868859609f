// Package paypal is a thin client for the PayPal Orders v2 API.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"

	StatusCompleted = "COMPLETED"

	issueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
)

type Config struct {
	Environment  string
	ClientID     string
	ClientSecret string
	ReturnURL    string
	CancelURL    string
	// BaseURL overrides the environment's host.
	BaseURL    string
	HTTPClient *http.Client
}

type APIError struct {
	StatusCode int
	Name       string
	Issue      string
	Message    string
}

func (e *APIError) Error() string {
	if e.Issue != "" {
		return fmt.Sprintf("paypal: %d %s (%s): %s", e.StatusCode, e.Name, e.Issue, e.Message)
	}
	return fmt.Sprintf("paypal: %d %s: %s", e.StatusCode, e.Name, e.Message)
}

type CreateOrderInput struct {
	ReferenceID string
	CustomID    string
	Amount      float64
	Currency    string
}

type Order struct {
	ID         string
	Status     string
	ApproveURL string
}

// Capture summarizes a captured (or previously captured) order.
type Capture struct {
	OrderID    string
	Status     string
	CaptureID  string
	PayerEmail string
	Amount     float64
	Currency   string
	CustomID   string
}

type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = SandboxBaseURL
		if cfg.Environment == "live" {
			baseURL = LiveBaseURL
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}

	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	client := creds.Client(tokenCtx)
	client.Timeout = base.Timeout

	return &Client{cfg: cfg, baseURL: baseURL, http: client}
}

// ConvertAmount converts a store-currency amount to the PayPal currency, rounded to cents.
// rate is store-currency units per PayPal-currency unit.
func ConvertAmount(amount, rate float64) float64 {
	if rate <= 0 {
		rate = 1
	}
	return math.Round(amount/rate*100) / 100
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Amount      money  `json:"amount"`
}

type applicationContext struct {
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
	UserAction string `json:"user_action"`
}

type createOrderRequest struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
	Payer  struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount money  `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (c *Client) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if in.Amount <= 0 {
		return nil, errors.New("paypal: amount must be positive")
	}

	req := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: in.ReferenceID,
			CustomID:    in.CustomID,
			Amount: money{
				CurrencyCode: in.Currency,
				Value:        strconv.FormatFloat(in.Amount, 'f', 2, 64),
			},
		}},
		ApplicationContext: applicationContext{
			ReturnURL:  c.cfg.ReturnURL,
			CancelURL:  c.cfg.CancelURL,
			UserAction: "PAY_NOW",
		},
	}

	var out orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", req, &out); err != nil {
		return nil, err
	}

	order := &Order{ID: out.ID, Status: out.Status}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			order.ApproveURL = l.Href
			break
		}
	}
	if order.ApproveURL == "" {
		return nil, errors.New("paypal: order has no approval link")
	}
	return order, nil
}

// CaptureOrder captures an approved order. An order captured earlier is fetched instead.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	var out orderResponse
	err := c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", struct{}{}, &out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Issue == issueAlreadyCaptured {
		return c.GetOrder(ctx, orderID)
	}
	if err != nil {
		return nil, err
	}
	return summarize(&out), nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Capture, error) {
	var out orderResponse
	if err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+orderID, nil, &out); err != nil {
		return nil, err
	}
	return summarize(&out), nil
}

func summarize(out *orderResponse) *Capture {
	capture := &Capture{
		OrderID:    out.ID,
		Status:     out.Status,
		PayerEmail: out.Payer.EmailAddress,
	}
	for _, unit := range out.PurchaseUnits {
		if capture.CustomID == "" {
			capture.CustomID = unit.CustomID
		}
		for _, c := range unit.Payments.Captures {
			if capture.CaptureID == "" {
				capture.CaptureID = c.ID
				capture.Currency = c.Amount.CurrencyCode
				capture.Amount, _ = strconv.ParseFloat(c.Amount.Value, 64)
			}
		}
	}
	return capture
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("paypal: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil {
			apiErr.Name = er.Name
			apiErr.Message = er.Message
			if len(er.Details) > 0 {
				apiErr.Issue = er.Details[0].Issue
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("paypal: decode %s: %w", path, err)
	}
	return nil
}
