package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
)

type PesapalConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	NotificationID string
	CallbackURL    string
	Timeout        time.Duration
}

// PesapalClient implements Provider against the Pesapal v3 REST API. Access
// tokens are fetched from Auth/RequestToken and reused until shortly before
// they expire.
type PesapalClient struct {
	cfg  PesapalConfig
	http *http.Client
}

func NewPesapalClient(cfg PesapalConfig) *PesapalClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	plain := &http.Client{Timeout: cfg.Timeout}
	src := oauth2.ReuseTokenSource(nil, &pesapalTokenSource{cfg: cfg, http: plain})
	return &PesapalClient{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &oauth2.Transport{Source: src, Base: http.DefaultTransport},
		},
	}
}

type pesapalError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *pesapalError) err(op string) error {
	if e == nil || (e.Code == "" && e.Message == "") {
		return nil
	}
	return fmt.Errorf("pesapal %s: %s: %s", op, e.Code, e.Message)
}

type pesapalTokenSource struct {
	cfg  PesapalConfig
	http *http.Client
	mu   sync.Mutex
}

type tokenResponse struct {
	Token      string        `json:"token"`
	ExpiryDate string        `json:"expiryDate"`
	Error      *pesapalError `json:"error"`
	Status     string        `json:"status"`
	Message    string        `json:"message"`
}

func (s *pesapalTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(map[string]string{
		"consumer_key":    s.cfg.ConsumerKey,
		"consumer_secret": s.cfg.ConsumerSecret,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/Auth/RequestToken", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var tr tokenResponse
	if err := doJSON(s.http, req, &tr); err != nil {
		return nil, fmt.Errorf("pesapal token: %w", err)
	}
	if err := tr.Error.err("token"); err != nil {
		return nil, err
	}
	if tr.Token == "" {
		return nil, fmt.Errorf("pesapal token: empty token (status %s)", tr.Status)
	}

	tok := &oauth2.Token{AccessToken: tr.Token, TokenType: "Bearer"}
	if exp, err := time.Parse(time.RFC3339Nano, tr.ExpiryDate); err == nil {
		tok.Expiry = exp
	} else {
		tok.Expiry = time.Now().Add(4 * time.Minute)
	}
	return tok, nil
}

func doJSON(c *http.Client, req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type billingAddress struct {
	EmailAddress string `json:"email_address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	Line1        string `json:"line_1,omitempty"`
}

type submitOrderRequest struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         float64        `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	BillingAddress billingAddress `json:"billing_address"`
}

type submitOrderResponse struct {
	OrderTrackingID   string        `json:"order_tracking_id"`
	MerchantReference string        `json:"merchant_reference"`
	RedirectURL       string        `json:"redirect_url"`
	Error             *pesapalError `json:"error"`
	Status            string        `json:"status"`
}

func (c *PesapalClient) CreateSession(ctx context.Context, sr SessionRequest) (*Session, error) {
	addr := billingAddress{Line1: sr.BuyerAddress}
	if strings.Contains(sr.BuyerContact, "@") {
		addr.EmailAddress = sr.BuyerContact
	} else {
		addr.PhoneNumber = sr.BuyerContact
	}
	body, err := json.Marshal(submitOrderRequest{
		ID:             sr.MerchantReference,
		Currency:       sr.Currency,
		Amount:         sr.Amount.InexactFloat64(),
		Description:    sr.Description,
		CallbackURL:    c.cfg.CallbackURL,
		NotificationID: c.cfg.NotificationID,
		BillingAddress: addr,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/Transactions/SubmitOrderRequest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var out submitOrderResponse
	if err := doJSON(c.http, req, &out); err != nil {
		return nil, fmt.Errorf("pesapal submit order: %w", err)
	}
	if err := out.Error.err("submit order"); err != nil {
		return nil, err
	}
	if out.OrderTrackingID == "" || out.RedirectURL == "" {
		return nil, fmt.Errorf("pesapal submit order: incomplete response (status %s)", out.Status)
	}
	return &Session{ProviderReference: out.OrderTrackingID, RedirectURL: out.RedirectURL}, nil
}

type transactionStatusResponse struct {
	PaymentStatusDescription string          `json:"payment_status_description"`
	StatusCode               int             `json:"status_code"`
	Amount                   decimal.Decimal `json:"amount"`
	Currency                 string          `json:"currency"`
	MerchantReference        string          `json:"merchant_reference"`
	Error                    *pesapalError   `json:"error"`
	Status                   string          `json:"status"`
}

func (c *PesapalClient) GetSessionStatus(ctx context.Context, providerReference string) (*SessionStatus, error) {
	q := url.Values{}
	q.Set("orderTrackingId", providerReference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/Transactions/GetTransactionStatus?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	var out transactionStatusResponse
	if err := doJSON(c.http, req, &out); err != nil {
		return nil, fmt.Errorf("pesapal transaction status: %w", err)
	}
	if out.Error != nil && strings.EqualFold(out.Error.Code, "invalid_order_tracking_id") {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReference, providerReference)
	}
	if err := out.Error.err("transaction status"); err != nil {
		return nil, err
	}
	return &SessionStatus{
		State:             MapState(out.PaymentStatusDescription),
		Description:       out.PaymentStatusDescription,
		MerchantReference: out.MerchantReference,
		Amount:            out.Amount,
		Currency:          out.Currency,
	}, nil
}

var _ Provider = (*PesapalClient)(nil)
