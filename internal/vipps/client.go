// Package vipps is a small client for the Vipps eCom v2 payment API.  It
// covers what the booking core needs: initiating a payment, reading its
// transaction log, capturing, cancelling and refunding.  Requests are rate
// limited and the access token is cached until shortly before it expires.
package vipps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds the merchant credentials and polling settings.
type Config struct {
	BaseURL              string
	ClientID             string
	ClientSecret         string
	SubscriptionKey      string
	MerchantSerialNumber string
	CallbackPrefix       string
	FallbackURL          string
	PollAttempts         int
	PollInterval         time.Duration
	RequestsPerSecond    float64
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vipps: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Vipps API.  It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client.  A nil httpClient gets a 15 second timeout.
func NewClient(cfg Config, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 6
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.ClientID != "" && c.cfg.ClientSecret != "" &&
		c.cfg.SubscriptionKey != "" && c.cfg.MerchantSerialNumber != ""
}

type tokenResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

// accessToken returns a cached token or fetches a new one.  The expiry is
// read from the token's exp claim; the signature is not ours to verify.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/accesstoken/get", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("client_id", c.cfg.ClientID)
	req.Header.Set("client_secret", c.cfg.ClientSecret)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
	req.Header.Set("Merchant-Serial-Number", c.cfg.MerchantSerialNumber)

	var tr tokenResponse
	if err := c.send(req, &tr); err != nil {
		return "", fmt.Errorf("vipps: access token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("vipps: access token: empty token")
	}

	exp := c.now().Add(5 * time.Minute)
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		// refresh a minute early
		exp = claims.ExpiresAt.Add(-time.Minute)
	}
	c.token, c.tokenExp = tr.AccessToken, exp
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, headers map[string]string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
	req.Header.Set("Merchant-Serial-Number", c.cfg.MerchantSerialNumber)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// PaymentRequest starts a payment.  Amount is in øre.
type PaymentRequest struct {
	OrderID      string
	Amount       int64
	MobileNumber string
	Text         string
	AuthToken    string
}

// InitiateResponse carries the URL the user is redirected to.
type InitiateResponse struct {
	OrderID string `json:"orderId"`
	URL     string `json:"url"`
}

type merchantInfo struct {
	MerchantSerialNumber string `json:"merchantSerialNumber"`
	CallbackPrefix       string `json:"callbackPrefix,omitempty"`
	FallBack             string `json:"fallBack,omitempty"`
	AuthToken            string `json:"authToken,omitempty"`
	IsApp                bool   `json:"isApp"`
}

type transaction struct {
	OrderID         string `json:"orderId,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
	TransactionText string `json:"transactionText"`
}

// InitiatePayment creates the payment at Vipps.
func (c *Client) InitiatePayment(ctx context.Context, req PaymentRequest) (*InitiateResponse, error) {
	body := map[string]any{
		"merchantInfo": merchantInfo{
			MerchantSerialNumber: c.cfg.MerchantSerialNumber,
			CallbackPrefix:       c.cfg.CallbackPrefix,
			FallBack:             strings.ReplaceAll(c.cfg.FallbackURL, "{orderId}", req.OrderID),
			AuthToken:            req.AuthToken,
		},
		"customerInfo": map[string]string{"mobileNumber": req.MobileNumber},
		"transaction": transaction{
			OrderID:         req.OrderID,
			Amount:          req.Amount,
			TransactionText: req.Text,
		},
	}
	var out InitiateResponse
	if err := c.do(ctx, http.MethodPost, "/ecomm/v2/payments", body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransactionLog is one entry of a payment's history, newest first.
type TransactionLog struct {
	Amount           int64  `json:"amount"`
	TransactionText  string `json:"transactionText"`
	TransactionID    string `json:"transactionId"`
	TimeStamp        string `json:"timeStamp"`
	Operation        string `json:"operation"`
	RequestID        string `json:"requestId"`
	OperationSuccess bool   `json:"operationSuccess"`
}

// PaymentDetails is the response of the details endpoint.
type PaymentDetails struct {
	OrderID               string           `json:"orderId"`
	TransactionLogHistory []TransactionLog `json:"transactionLogHistory"`
}

// GetPaymentDetails fetches the transaction history of an order.
func (c *Client) GetPaymentDetails(ctx context.Context, orderID string) (*PaymentDetails, error) {
	var out PaymentDetails
	if err := c.do(ctx, http.MethodGet, "/ecomm/v2/payments/"+orderID+"/details", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransactionResponse is returned by capture, cancel and refund.
type TransactionResponse struct {
	OrderID         string `json:"orderId"`
	TransactionInfo struct {
		Amount        int64  `json:"amount"`
		Status        string `json:"status"`
		TransactionID string `json:"transactionId"`
		TimeStamp     string `json:"timeStamp"`
	} `json:"transactionInfo"`
}

func (c *Client) transactionCall(ctx context.Context, method, orderID, action string, amount int64, text string) (*TransactionResponse, error) {
	body := map[string]any{
		"merchantInfo": merchantInfo{MerchantSerialNumber: c.cfg.MerchantSerialNumber},
		"transaction":  transaction{Amount: amount, TransactionText: text},
	}
	headers := map[string]string{"X-Request-Id": uuid.NewString()}
	var out TransactionResponse
	if err := c.do(ctx, method, "/ecomm/v2/payments/"+orderID+"/"+action, body, &out, headers); err != nil {
		return nil, err
	}
	return &out, nil
}

// CapturePayment captures a reserved amount.
func (c *Client) CapturePayment(ctx context.Context, orderID string, amount int64) (*TransactionResponse, error) {
	return c.transactionCall(ctx, http.MethodPost, orderID, "capture", amount, "Booking captured")
}

// CancelPayment cancels a reserved, uncaptured payment.
func (c *Client) CancelPayment(ctx context.Context, orderID string) (*TransactionResponse, error) {
	return c.transactionCall(ctx, http.MethodPut, orderID, "cancel", 0, "Booking cancelled")
}

// RefundPayment refunds a captured amount.
func (c *Client) RefundPayment(ctx context.Context, orderID string, amount int64) (*TransactionResponse, error) {
	return c.transactionCall(ctx, http.MethodPost, orderID, "refund", amount, "Booking refunded")
}
