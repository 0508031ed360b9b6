package stripe_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/payflow-io/payflow/internal/observability/metrics"
	"github.com/payflow-io/payflow/internal/processor/domain"
	"github.com/payflow-io/payflow/internal/processor/stripe"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestCreateIntentSendsFormAndHeaders(t *testing.T) {
	var gotPath, gotAuth, gotIdempotency, gotAccount, gotContentType string
	var gotForm map[string][]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("Idempotency-Key")
		gotAccount = r.Header.Get("Stripe-Account")
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_remote_1","client_secret":"cs_123","status":"requires_payment_method","amount":1999,"currency":"usd"}`))
	}))
	defer server.Close()

	client, err := stripe.NewClient("sk_test_abc", "acct_1", stripe.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	intent, err := client.CreateIntent(context.Background(), domain.CreateIntentParams{
		Amount:         1999,
		Currency:       "USD",
		Description:    "pro plan",
		Metadata:       map[string]string{"intent_id": "pi_local_1"},
		IdempotencyKey: "intent:pi_local_1",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if intent.ID != "pi_remote_1" || intent.ClientSecret != "cs_123" || intent.Status != "requires_payment_method" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if gotPath != "/v1/payment_intents" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer sk_test_abc" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotIdempotency != "intent:pi_local_1" {
		t.Fatalf("unexpected idempotency key %q", gotIdempotency)
	}
	if gotAccount != "acct_1" {
		t.Fatalf("unexpected stripe-account header %q", gotAccount)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
	if got := gotForm["amount"]; len(got) != 1 || got[0] != "1999" {
		t.Fatalf("unexpected amount field %v", got)
	}
	if got := gotForm["currency"]; len(got) != 1 || got[0] != "usd" {
		t.Fatalf("expected lowercase currency, got %v", got)
	}
	if got := gotForm["metadata[intent_id]"]; len(got) != 1 || got[0] != "pi_local_1" {
		t.Fatalf("expected metadata field, got %v", gotForm)
	}
}

func TestCreateIntentRetriesOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"pi_remote_2","client_secret":"cs_456","status":"processing","amount":500,"currency":"eur"}`))
	}))
	defer server.Close()

	client, err := stripe.NewClient("sk_test_abc", "", stripe.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	intent, err := client.CreateIntent(context.Background(), domain.CreateIntentParams{
		Amount:         500,
		Currency:       "eur",
		IdempotencyKey: "intent:pi_local_2",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
	if intent.ID != "pi_remote_2" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestCreateIntentDoesNotRetryClientError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"message":"Your card was declined."}}`))
	}))
	defer server.Close()

	client, err := stripe.NewClient("sk_test_abc", "", stripe.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.CreateIntent(context.Background(), domain.CreateIntentParams{
		Amount:   100,
		Currency: "usd",
	})
	if !errors.Is(err, domain.ErrProcessor) {
		t.Fatalf("expected processor error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Your card was declined.") {
		t.Fatalf("expected stripe message in error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", attempts)
	}
}

func TestCreateIntentFailsAfterRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := stripe.NewClient("sk_test_abc", "", stripe.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.CreateIntent(context.Background(), domain.CreateIntentParams{Amount: 100, Currency: "usd"})
	if !errors.Is(err, domain.ErrProcessor) {
		t.Fatalf("expected processor error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly two attempts, got %d", attempts)
	}
}

func TestRetrieveIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents/pi_remote_3" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"id":"pi_remote_3","status":"succeeded","amount":700,"currency":"usd"}`))
	}))
	defer server.Close()

	client, err := stripe.NewClient("sk_test_abc", "", stripe.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	intent, err := client.RetrieveIntent(context.Background(), "pi_remote_3")
	if err != nil {
		t.Fatalf("retrieve intent: %v", err)
	}
	if intent.Status != "succeeded" || intent.Amount != 700 {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := stripe.NewClient("", ""); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if _, err := stripe.NewClient("   ", "acct_1"); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config for blank key, got %v", err)
	}
}

func TestCreateIntentRecordsCallMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_remote_4","client_secret":"cs_4","status":"requires_payment_method","amount":100,"currency":"usd"}`))
	}))
	defer server.Close()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder, err := metrics.New(metrics.Config{ServiceName: "payflow"}, provider)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	client, err := stripe.NewClient("sk_test_abc", "", stripe.WithBaseURL(server.URL), stripe.WithMetrics(recorder))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.CreateIntent(context.Background(), domain.CreateIntentParams{Amount: 100, Currency: "usd"}); err != nil {
		t.Fatalf("create intent: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	calls := findMetric(t, rm, "payflow_processor_calls_total")
	sum, ok := calls.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected int64 sum, got %T", calls.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("expected one call recorded, got %+v", sum.DataPoints)
	}
	if got, ok := sum.DataPoints[0].Attributes.Value("provider"); !ok || got.AsString() != "stripe" {
		t.Fatalf("expected provider=stripe attribute, got %+v", sum.DataPoints[0].Attributes)
	}
	if got, ok := sum.DataPoints[0].Attributes.Value("status_code"); !ok || got.AsString() != "200" {
		t.Fatalf("expected status_code=200 attribute, got %+v", sum.DataPoints[0].Attributes)
	}

	latency := findMetric(t, rm, "payflow_processor_call_duration_seconds")
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected float64 histogram, got %T", latency.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("expected one latency sample, got %+v", hist.DataPoints)
	}
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return metricdata.Metrics{}
}
