// Package mpesa is a thin client for Safaricom Daraja's M-Pesa Express (STK push).
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"
)

// Daraja timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

type Config struct {
	Environment    string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	// BaseURL overrides the environment's host.
	BaseURL    string
	HTTPClient *http.Client
}

// APIError is a non-success answer from Daraja.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mpesa: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

type STKPushInput struct {
	Phone            string
	Amount           float64
	AccountReference string
	Description      string
}

type STKPushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
}

type Client struct {
	cfg       Config
	baseURL   string
	shortCode uint64
	http      *http.Client
	now       func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config) (*Client, error) {
	shortCode, err := strconv.ParseUint(strings.TrimSpace(cfg.ShortCode), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("mpesa: invalid shortcode %q", cfg.ShortCode)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = SandboxBaseURL
		if cfg.Environment == "production" {
			baseURL = ProductionBaseURL
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		cfg:       cfg,
		baseURL:   strings.TrimRight(baseURL, "/"),
		shortCode: shortCode,
		http:      httpClient,
		now:       time.Now,
	}, nil
}

type stkPushRequest struct {
	BusinessShortCode uint64 `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            uint64 `json:"Amount"`
	PartyA            uint64 `json:"PartyA"`
	PartyB            uint64 `json:"PartyB"`
	PhoneNumber       uint64 `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// STKPush prompts the customer's phone for the amount, rounded up to whole shillings.
func (c *Client) STKPush(ctx context.Context, in STKPushInput) (*STKPushResult, error) {
	phone, err := strconv.ParseUint(in.Phone, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("mpesa: invalid phone %q", in.Phone)
	}
	amount := uint64(math.Ceil(in.Amount))
	if amount == 0 {
		return nil, errors.New("mpesa: amount must be positive")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().In(eat).Format(timestampLayout)
	body, err := json.Marshal(stkPushRequest{
		BusinessShortCode: c.shortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.shortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(in.AccountReference, 12),
		TransactionDesc:   truncate(in.Description, 13),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mpesa: stk push: %w", err)
	}
	defer resp.Body.Close()

	var out stkPushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "unreadable response"}
	}
	if resp.StatusCode != http.StatusOK || out.ResponseCode != "0" {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: out.ErrorCode, Message: out.ErrorMessage}
		if apiErr.Code == "" {
			apiErr.Code = out.ResponseCode
			apiErr.Message = out.ResponseDescription
		}
		return nil, apiErr
	}

	return &STKPushResult{
		MerchantRequestID: out.MerchantRequestID,
		CheckoutRequestID: out.CheckoutRequestID,
		CustomerMessage:   out.CustomerMessage,
	}, nil
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("mpesa: token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Code: "auth", Message: "token request rejected"}
	}

	var out tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("mpesa: decode token: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("mpesa: empty access token")
	}

	ttl, err := strconv.Atoi(out.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	c.token = out.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(ttl)*time.Second - time.Minute)
	return c.token, nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
