// Package provider is a client for the payment provider's REST API
// covering customers, subscriptions, invoices, payment methods,
// checkout sessions, prices, products, and disputes. Handlers use it to
// fetch the resources referenced by event payloads and to drive dunning
// actions. Requests are form encoded and responses are JSON, matching
// the provider's wire format.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/ratelimit"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 30 * time.Second

const defaultBaseURL = "https://api.payments.example.com/v1"

// ThrottlePolicy gates outbound calls per resource bucket and learns
// throttle windows from response metadata.
type ThrottlePolicy interface {
	BeforeCall(ctx context.Context, key ratelimit.Key) error
	AfterCall(ctx context.Context, key ratelimit.Key, res ratelimit.ResponseMeta) error
}

// Client talks to the provider API. The zero value is not usable,
// construct with NewClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	observer   core.Observer
	throttle   ThrottlePolicy
}

// ClientOption mutates client construction.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API host, usually a
// test server.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithObserver attaches logging and metrics to API calls.
func WithObserver(observer core.Observer) ClientOption {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithThrottlePolicy short circuits calls into a known throttle window
// instead of burning them against a rate limited bucket.
func WithThrottlePolicy(policy ThrottlePolicy) ClientOption {
	return func(c *Client) {
		c.throttle = policy
	}
}

func NewClient(apiKey string, options ...ClientOption) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("provider: api key is required")
	}

	client := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}

	for _, option := range options {
		if option != nil {
			option(client)
		}
	}

	return client, nil
}

// Customer is the provider's customer resource.
type Customer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

// Subscription is the provider's subscription resource.
type Subscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	TrialEnd           int64  `json:"trial_end"`
	DefaultPaymentMeth string `json:"default_payment_method"`
}

// Invoice is the provider's invoice resource.
type Invoice struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Subscription     string `json:"subscription"`
	Status           string `json:"status"`
	AmountDue        int64  `json:"amount_due"`
	AmountPaid       int64  `json:"amount_paid"`
	Currency         string `json:"currency"`
	AttemptCount     int    `json:"attempt_count"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
}

// Price is the provider's price resource.
type Price struct {
	ID         string `json:"id"`
	Product    string `json:"product"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Active     bool   `json:"active"`
}

// Product is the provider's product resource.
type Product struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// PaymentMethod is the provider's payment method resource.
type PaymentMethod struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Type     string `json:"type"`
}

// CheckoutSession is the provider's checkout session resource.
type CheckoutSession struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Status        string `json:"status"`
	Subscription  string `json:"subscription"`
	URL           string `json:"url"`
}

// Dispute is the provider's dispute resource.
type Dispute struct {
	ID            string `json:"id"`
	Charge        string `json:"charge"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
	EvidenceDueBy int64  `json:"evidence_due_by"`
}

type listEnvelope[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCustomer creates a customer from the given form fields.
func (c *Client) CreateCustomer(ctx context.Context, fields url.Values) (Customer, error) {
	var out Customer
	err := c.call(ctx, http.MethodPost, "/customers", fields, &out)
	return out, err
}

// GetCustomer fetches a customer by id.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	var out Customer
	err := c.call(ctx, http.MethodGet, "/customers/"+url.PathEscape(customerID), nil, &out)
	return out, err
}

// UpdateCustomer applies the given form fields to a customer.
func (c *Client) UpdateCustomer(ctx context.Context, customerID string, fields url.Values) (Customer, error) {
	var out Customer
	err := c.call(ctx, http.MethodPost, "/customers/"+url.PathEscape(customerID), fields, &out)
	return out, err
}

// ListCustomers lists customers, optionally filtered by email.
func (c *Client) ListCustomers(ctx context.Context, email string, limit int) ([]Customer, error) {
	query := url.Values{}
	if email != "" {
		query.Set("email", email)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out listEnvelope[Customer]
	if err := c.call(ctx, http.MethodGet, "/customers?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}

	return out.Data, nil
}

// GetSubscription fetches a subscription by id.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	var out Subscription
	err := c.call(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &out)
	return out, err
}

// UpdateSubscription applies the given form fields to a subscription.
func (c *Client) UpdateSubscription(ctx context.Context, subscriptionID string, fields url.Values) (Subscription, error) {
	var out Subscription
	err := c.call(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(subscriptionID), fields, &out)
	return out, err
}

// CancelSubscription cancels a subscription immediately.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	var out Subscription
	err := c.call(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &out)
	return out, err
}

// ListSubscriptions lists subscriptions, optionally filtered by status.
func (c *Client) ListSubscriptions(ctx context.Context, status string, limit int) ([]Subscription, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out listEnvelope[Subscription]
	if err := c.call(ctx, http.MethodGet, "/subscriptions?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}

	return out.Data, nil
}

// GetInvoice fetches an invoice by id.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	var out Invoice
	err := c.call(ctx, http.MethodGet, "/invoices/"+url.PathEscape(invoiceID), nil, &out)
	return out, err
}

// PayInvoice asks the provider to attempt payment on an open invoice.
func (c *Client) PayInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	var out Invoice
	err := c.call(ctx, http.MethodPost, "/invoices/"+url.PathEscape(invoiceID)+"/pay", nil, &out)
	return out, err
}

// VoidInvoice voids an open invoice.
func (c *Client) VoidInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	var out Invoice
	err := c.call(ctx, http.MethodPost, "/invoices/"+url.PathEscape(invoiceID)+"/void", nil, &out)
	return out, err
}

// SendInvoice asks the provider to email the invoice to the customer.
func (c *Client) SendInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	var out Invoice
	err := c.call(ctx, http.MethodPost, "/invoices/"+url.PathEscape(invoiceID)+"/send", nil, &out)
	return out, err
}

// ListInvoices lists a customer's invoices, optionally filtered by
// status.
func (c *Client) ListInvoices(ctx context.Context, customerID, status string, limit int) ([]Invoice, error) {
	query := url.Values{}
	query.Set("customer", customerID)
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out listEnvelope[Invoice]
	if err := c.call(ctx, http.MethodGet, "/invoices?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}

	return out.Data, nil
}

// GetUpcomingInvoice previews the customer's next invoice. The preview
// may be scoped to a single subscription.
func (c *Client) GetUpcomingInvoice(ctx context.Context, customerID, subscriptionID string) (Invoice, error) {
	query := url.Values{}
	query.Set("customer", customerID)
	if subscriptionID != "" {
		query.Set("subscription", subscriptionID)
	}

	var out Invoice
	err := c.call(ctx, http.MethodGet, "/invoices/upcoming?"+query.Encode(), nil, &out)
	return out, err
}

// ListPaymentMethods lists a customer's payment methods of the given
// type.
func (c *Client) ListPaymentMethods(ctx context.Context, customerID, methodType string) ([]PaymentMethod, error) {
	query := url.Values{}
	query.Set("customer", customerID)
	if methodType != "" {
		query.Set("type", methodType)
	}

	var out listEnvelope[PaymentMethod]
	if err := c.call(ctx, http.MethodGet, "/payment_methods?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}

	return out.Data, nil
}

// AttachPaymentMethod attaches a payment method to a customer.
func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (PaymentMethod, error) {
	fields := url.Values{}
	fields.Set("customer", customerID)

	var out PaymentMethod
	err := c.call(ctx, http.MethodPost, "/payment_methods/"+url.PathEscape(paymentMethodID)+"/attach", fields, &out)
	return out, err
}

// DetachPaymentMethod removes a payment method from its customer.
func (c *Client) DetachPaymentMethod(ctx context.Context, paymentMethodID string) (PaymentMethod, error) {
	var out PaymentMethod
	err := c.call(ctx, http.MethodPost, "/payment_methods/"+url.PathEscape(paymentMethodID)+"/detach", nil, &out)
	return out, err
}

// CreateCheckoutSession opens a hosted checkout session.
func (c *Client) CreateCheckoutSession(ctx context.Context, fields url.Values) (CheckoutSession, error) {
	var out CheckoutSession
	err := c.call(ctx, http.MethodPost, "/checkout/sessions", fields, &out)
	return out, err
}

// GetCheckoutSession fetches a checkout session by id.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	var out CheckoutSession
	err := c.call(ctx, http.MethodGet, "/checkout/sessions/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

// ExpireCheckoutSession closes an open checkout session early.
func (c *Client) ExpireCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	var out CheckoutSession
	err := c.call(ctx, http.MethodPost, "/checkout/sessions/"+url.PathEscape(sessionID)+"/expire", nil, &out)
	return out, err
}

// CreatePrice creates a price from the given form fields.
func (c *Client) CreatePrice(ctx context.Context, fields url.Values) (Price, error) {
	var out Price
	err := c.call(ctx, http.MethodPost, "/prices", fields, &out)
	return out, err
}

// GetPrice fetches a price by id.
func (c *Client) GetPrice(ctx context.Context, priceID string) (Price, error) {
	var out Price
	err := c.call(ctx, http.MethodGet, "/prices/"+url.PathEscape(priceID), nil, &out)
	return out, err
}

// ListPrices lists prices, optionally scoped to one product.
func (c *Client) ListPrices(ctx context.Context, productID string, limit int) ([]Price, error) {
	query := url.Values{}
	if productID != "" {
		query.Set("product", productID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out listEnvelope[Price]
	if err := c.call(ctx, http.MethodGet, "/prices?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}

	return out.Data, nil
}

// CreateProduct creates a product from the given form fields.
func (c *Client) CreateProduct(ctx context.Context, fields url.Values) (Product, error) {
	var out Product
	err := c.call(ctx, http.MethodPost, "/products", fields, &out)
	return out, err
}

// GetProduct fetches a product by id.
func (c *Client) GetProduct(ctx context.Context, productID string) (Product, error) {
	var out Product
	err := c.call(ctx, http.MethodGet, "/products/"+url.PathEscape(productID), nil, &out)
	return out, err
}

// ListProducts lists products.
func (c *Client) ListProducts(ctx context.Context, limit int) ([]Product, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out listEnvelope[Product]
	if err := c.call(ctx, http.MethodGet, "/products?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}

	return out.Data, nil
}

// GetDispute fetches a dispute by id.
func (c *Client) GetDispute(ctx context.Context, disputeID string) (Dispute, error) {
	var out Dispute
	err := c.call(ctx, http.MethodGet, "/disputes/"+url.PathEscape(disputeID), nil, &out)
	return out, err
}

// UpdateDispute submits evidence or metadata on a dispute.
func (c *Client) UpdateDispute(ctx context.Context, disputeID string, fields url.Values) (Dispute, error) {
	var out Dispute
	err := c.call(ctx, http.MethodPost, "/disputes/"+url.PathEscape(disputeID), fields, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method, path string, form url.Values, out any) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("provider: client is not configured")
	}

	startedAt := time.Now()
	bucket := ratelimit.Key{Resource: resourceBucket(path)}

	if c.throttle != nil {
		if err := c.throttle.BeforeCall(ctx, bucket); err != nil {
			apiErr := throttleError(method, path, err)
			c.observer.ObserveOperation(ctx, startedAt, "provider.call", apiErr, callFields(method, path, 0))
			return apiErr
		}
	}

	var body io.Reader
	if len(form) > 0 {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return core.NewBadInputError(fmt.Sprintf("provider: build request: %v", err))
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErr := unavailableError(method, path, err.Error())
		c.observer.ObserveOperation(ctx, startedAt, "provider.call", apiErr, callFields(method, path, 0))
		return apiErr
	}
	defer resp.Body.Close()

	if c.throttle != nil {
		meta := ratelimit.ResponseMeta{
			StatusCode: resp.StatusCode,
			Headers:    flattenHeaders(resp.Header),
		}
		if err := c.throttle.AfterCall(ctx, bucket, meta); err != nil {
			c.observer.LogWarn(ctx, "provider: throttle state update failed", callFields(method, path, resp.StatusCode))
		}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		apiErr := unavailableError(method, path, err.Error())
		c.observer.ObserveOperation(ctx, startedAt, "provider.call", apiErr, callFields(method, path, resp.StatusCode))
		return apiErr
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		apiErr := unavailableError(method, path, apiMessage(payload, resp.Status))
		c.observer.ObserveOperation(ctx, startedAt, "provider.call", apiErr, callFields(method, path, resp.StatusCode))
		return apiErr
	}

	if resp.StatusCode >= 400 {
		apiErr := rejectedError(method, path, apiMessage(payload, resp.Status))
		c.observer.ObserveOperation(ctx, startedAt, "provider.call", apiErr, callFields(method, path, resp.StatusCode))
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			apiErr := rejectedError(method, path, "response is not valid JSON")
			c.observer.ObserveOperation(ctx, startedAt, "provider.call", apiErr, callFields(method, path, resp.StatusCode))
			return apiErr
		}
	}

	c.observer.ObserveOperation(ctx, startedAt, "provider.call", nil, callFields(method, path, resp.StatusCode))

	return nil
}

func apiMessage(payload []byte, fallback string) string {
	var decoded apiError
	if err := json.Unmarshal(payload, &decoded); err == nil {
		if message := strings.TrimSpace(decoded.Error.Message); message != "" {
			return message
		}
	}
	return fallback
}

func callFields(method, path string, status int) map[string]any {
	fields := map[string]any{
		"method": method,
		"path":   path,
	}
	if status > 0 {
		fields["status_code"] = status
	}
	return fields
}

// resourceBucket maps an API path to its rate limit bucket, the first
// path segment: "/invoices/in_1/pay" belongs to "invoices".
func resourceBucket(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.IndexAny(trimmed, "/?"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for name := range header {
		flat[name] = header.Get(name)
	}
	return flat
}

func throttleError(method, path string, err error) error {
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return throttled.ToServiceError()
	}
	return unavailableError(method, path, err.Error())
}

func unavailableError(method, path, message string) error {
	return core.NewProviderUnavailableError(fmt.Sprintf("%s %s: %s", method, path, message))
}

func rejectedError(method, path, message string) error {
	return core.NewProviderRejectedError(fmt.Sprintf("%s %s: %s", method, path, message))
}
