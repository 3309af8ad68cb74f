package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/ratelimit"
)

func TestClientGetCustomer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/customers/cus_1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("unexpected authorization header %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"id":"cus_1","email":"jo@example.com","name":"Jo"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	customer, err := client.GetCustomer(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("expected customer, got %v", err)
	}

	if customer.Email != "jo@example.com" {
		t.Fatalf("unexpected email %q", customer.Email)
	}
}

func TestClientUpdateSubscriptionSendsForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("expected form body, got %v", err)
		}
		if r.PostForm.Get("cancel_at_period_end") != "true" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Write([]byte(`{"id":"sub_1","status":"active","cancel_at_period_end":true}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	fields := url.Values{}
	fields.Set("cancel_at_period_end", "true")

	subscription, err := client.UpdateSubscription(context.Background(), "sub_1", fields)
	if err != nil {
		t.Fatalf("expected subscription, got %v", err)
	}

	if !subscription.CancelAtPeriodEnd {
		t.Fatalf("expected cancel at period end to be set")
	}
}

func TestClientListPaymentMethods(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("customer") != "cus_1" {
			t.Errorf("unexpected query %v", r.URL.Query())
		}
		w.Write([]byte(`{"data":[{"id":"pm_1","customer":"cus_1","type":"card"}],"has_more":false}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	methods, err := client.ListPaymentMethods(context.Background(), "cus_1", "card")
	if err != nil {
		t.Fatalf("expected payment methods, got %v", err)
	}

	if len(methods) != 1 || methods[0].ID != "pm_1" {
		t.Fatalf("unexpected methods %v", methods)
	}
}

func TestClientAttachPaymentMethod(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payment_methods/pm_1/attach" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("expected form body, got %v", err)
		}
		if r.PostForm.Get("customer") != "cus_1" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Write([]byte(`{"id":"pm_1","customer":"cus_1","type":"card"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	method, err := client.AttachPaymentMethod(context.Background(), "pm_1", "cus_1")
	if err != nil {
		t.Fatalf("expected payment method, got %v", err)
	}
	if method.Customer != "cus_1" {
		t.Fatalf("unexpected customer %q", method.Customer)
	}
}

func TestClientListInvoicesFiltersByStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("customer") != "cus_1" || query.Get("status") != "open" || query.Get("limit") != "5" {
			t.Errorf("unexpected query %v", query)
		}
		w.Write([]byte(`{"data":[{"id":"in_1","customer":"cus_1","status":"open","amount_due":2500,"currency":"usd"}],"has_more":false}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	invoices, err := client.ListInvoices(context.Background(), "cus_1", "open", 5)
	if err != nil {
		t.Fatalf("expected invoices, got %v", err)
	}
	if len(invoices) != 1 || invoices[0].Currency != "usd" {
		t.Fatalf("unexpected invoices %v", invoices)
	}
}

func TestClientGetUpcomingInvoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoices/upcoming" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("customer") != "cus_1" || query.Get("subscription") != "sub_1" {
			t.Errorf("unexpected query %v", query)
		}
		w.Write([]byte(`{"customer":"cus_1","subscription":"sub_1","amount_due":4200}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	invoice, err := client.GetUpcomingInvoice(context.Background(), "cus_1", "sub_1")
	if err != nil {
		t.Fatalf("expected upcoming invoice, got %v", err)
	}
	if invoice.AmountDue != 4200 {
		t.Fatalf("unexpected amount due %d", invoice.AmountDue)
	}
}

func TestClientExpireCheckoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/sessions/cs_1/expire" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"id":"cs_1","status":"expired"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	session, err := client.ExpireCheckoutSession(context.Background(), "cs_1")
	if err != nil {
		t.Fatalf("expected session, got %v", err)
	}
	if session.Status != "expired" {
		t.Fatalf("unexpected status %q", session.Status)
	}
}

func TestClientListPricesForProduct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("product") != "prod_1" {
			t.Errorf("unexpected query %v", r.URL.Query())
		}
		w.Write([]byte(`{"data":[{"id":"price_1","product":"prod_1","unit_amount":999,"currency":"usd","active":true}],"has_more":false}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	prices, err := client.ListPrices(context.Background(), "prod_1", 0)
	if err != nil {
		t.Fatalf("expected prices, got %v", err)
	}
	if len(prices) != 1 || prices[0].UnitAmount != 999 {
		t.Fatalf("unexpected prices %v", prices)
	}
}

func TestClientUpdateDisputeSendsEvidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/disputes/dp_1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("expected form body, got %v", err)
		}
		if r.PostForm.Get("evidence[product_description]") == "" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Write([]byte(`{"id":"dp_1","status":"under_review"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	fields := url.Values{}
	fields.Set("evidence[product_description]", "monthly plan")

	dispute, err := client.UpdateDispute(context.Background(), "dp_1", fields)
	if err != nil {
		t.Fatalf("expected dispute, got %v", err)
	}
	if dispute.Status != "under_review" {
		t.Fatalf("unexpected status %q", dispute.Status)
	}
}

func TestClientMapsServerErrorsToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"backend down"}}`, http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.GetInvoice(context.Background(), "in_1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !core.IsTextCode(err, core.ErrorProviderUnavailable) {
		t.Fatalf("expected provider unavailable code, got %v", err)
	}
}

func TestClientMapsClientErrorsToRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"no such invoice"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.GetInvoice(context.Background(), "in_missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !core.IsTextCode(err, core.ErrorProviderRejected) {
		t.Fatalf("expected provider rejected code, got %v", err)
	}
}

func TestClientMapsNetworkFailureToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.GetCustomer(context.Background(), "cus_1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !core.IsTextCode(err, core.ErrorProviderUnavailable) {
		t.Fatalf("expected provider unavailable code, got %v", err)
	}
}

func TestClientThrottlePolicyBlocksAfterRateLimit(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	policy.Now = func() time.Time { return now }

	client, err := NewClient("sk_test", WithBaseURL(server.URL), WithThrottlePolicy(policy))
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}

	if _, err := client.GetInvoice(context.Background(), "in_1"); err == nil {
		t.Fatalf("expected rate limited call to fail")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream hit, got %d", hits.Load())
	}

	// The learned window now blocks locally without reaching upstream.
	_, err = client.GetInvoice(context.Background(), "in_2")
	if err == nil {
		t.Fatalf("expected throttled call to fail")
	}
	if !core.IsTextCode(err, core.ErrorProviderUnavailable) {
		t.Fatalf("expected provider unavailable code, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected throttle to short circuit, upstream hits %d", hits.Load())
	}

	// A different bucket stays open.
	if _, err := client.GetCustomer(context.Background(), "cus_1"); err == nil {
		t.Fatalf("expected upstream 429 for customers")
	}
	if hits.Load() != 2 {
		t.Fatalf("expected customers bucket to reach upstream, hits %d", hits.Load())
	}
}

func TestResourceBucket(t *testing.T) {
	cases := map[string]string{
		"/invoices/in_1/pay":            "invoices",
		"/customers/cus_1":              "customers",
		"/payment_methods?customer=c_1": "payment_methods",
		"/disputes":                     "disputes",
	}
	for path, want := range cases {
		if got := resourceBucket(path); got != want {
			t.Fatalf("unexpected bucket for %q: got %q, want %q", path, got, want)
		}
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatalf("expected missing api key to be rejected")
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := NewClient("sk_test", WithBaseURL(baseURL))
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}

	return client
}
