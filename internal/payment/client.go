package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/shopspring/decimal"
)

// Client talks to the provider's checkout session REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, httpClient: httpClient}
}

type createSessionBody struct {
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerEmail     string `json:"customer_email,omitempty"`
	Description       string `json:"description,omitempty"`
	Quantity          int    `json:"quantity"`
	SuccessURL        string `json:"success_url"`
	CancelURL         string `json:"cancel_url"`
}

type sessionBody struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	ExpiresAt         time.Time `json:"expires_at"`
	Status            string    `json:"status"`
	PaymentStatus     string    `json:"payment_status"`
	PaymentRef        string    `json:"payment_ref"`
	ClientReferenceID string    `json:"client_reference_id"`
	AmountTotal       string    `json:"amount_total"`
	Currency          string    `json:"currency"`
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error) {
	body := createSessionBody{
		Amount:            req.Amount.StringFixed(2),
		Currency:          strings.ToLower(req.Currency),
		ClientReferenceID: req.PurchaseID.String(),
		CustomerEmail:     req.CustomerEmail,
		Description:       req.Description,
		Quantity:          req.Quantity,
		SuccessURL:        req.SuccessURL,
		CancelURL:         req.CancelURL,
	}
	var out sessionBody
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", body, &out); err != nil {
		return Session{}, err
	}
	return Session{ID: out.ID, URL: out.URL, ExpiresAt: out.ExpiresAt}, nil
}

func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (SessionStatus, error) {
	var out sessionBody
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return SessionStatus{}, err
	}
	st := SessionStatus{
		ID:         out.ID,
		Status:     out.Status,
		Paid:       out.PaymentStatus == "paid",
		PaymentRef: out.PaymentRef,
		Currency:   out.Currency,
	}
	if id, err := uuid.Parse(out.ClientReferenceID); err == nil {
		st.PurchaseID = id
	}
	if out.AmountTotal != "" {
		amount, err := decimal.NewFromString(out.AmountTotal)
		if err != nil {
			return SessionStatus{}, errors.Mark(errors.Wrapf(err, "session %s amount_total", sessionID), domain.ErrUpstream)
		}
		st.Amount = decimal.NewNullDecimal(amount)
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode payment request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build payment request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "%s %s", method, path), domain.ErrUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrapf(domain.ErrNotFound, "payment session: %s", path)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Mark(
			errors.Newf("payment provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			domain.ErrUpstream,
		)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Mark(errors.Wrap(err, "decode payment response"), domain.ErrUpstream)
	}
	return nil
}
