package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubSessionAPI struct {
	newFunc func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func (s *stubSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.newFunc(params)
}

type stubIntentAPI struct {
	getFunc func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (s *stubIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.getFunc(id, params)
}

type stubRefundAPI struct {
	newFunc func(params *stripe.RefundParams) (*stripe.Refund, error)
}

func (s *stubRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	return s.newFunc(params)
}

func newStubProvider(t *testing.T, clients stripeClients) *StripeProvider {
	t.Helper()
	if clients.sessions == nil {
		clients.sessions = &stubSessionAPI{newFunc: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			return &stripe.CheckoutSession{ID: "cs_test"}, nil
		}}
	}
	if clients.intents == nil {
		clients.intents = &stubIntentAPI{getFunc: func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{}, nil
		}}
	}
	if clients.refunds == nil {
		clients.refunds = &stubRefundAPI{newFunc: func(*stripe.RefundParams) (*stripe.Refund, error) {
			return &stripe.Refund{ID: "re_test"}, nil
		}}
	}
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &clients,
		Clock:   func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return provider
}

func TestStripeCreateCheckoutSession(t *testing.T) {
	ctx := context.Background()
	var captured *stripe.CheckoutSessionParams
	provider := newStubProvider(t, stripeClients{
		sessions: &stubSessionAPI{newFunc: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			captured = params
			return &stripe.CheckoutSession{
				ID:        "cs_123",
				URL:       "https://checkout.stripe.com/cs_123",
				ExpiresAt: time.Date(2026, 3, 14, 10, 25, 0, 0, time.UTC).Unix(),
			}, nil
		}},
	})

	session, err := provider.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		OrderID:        "ord_1",
		Amount:         5000,
		Currency:       "USD",
		PaymentMethod:  "wechat",
		SuccessURL:     "https://shop.example/success",
		CancelURL:      "https://shop.example/cancel",
		IdempotencyKey: "ord_1-1",
		Items: []CheckoutLineItem{
			{Name: "Kettle 1L", SKU: "var-1", Quantity: 2, Amount: 2500, Currency: "USD"},
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.ID != "cs_123" || session.Provider != "stripe" || session.RedirectURL == "" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.ExpiresAt.Equal(time.Date(2026, 3, 14, 10, 25, 0, 0, time.UTC)) {
		t.Fatalf("provider expiry must win, got %v", session.ExpiresAt)
	}

	if captured.ClientReferenceID == nil || *captured.ClientReferenceID != "ord_1" {
		t.Fatalf("client reference not threaded: %+v", captured.ClientReferenceID)
	}
	if len(captured.PaymentMethodTypes) != 1 || *captured.PaymentMethodTypes[0] != "wechat_pay" {
		t.Fatalf("unexpected payment method types %+v", captured.PaymentMethodTypes)
	}
	if len(captured.LineItems) != 1 {
		t.Fatalf("expected one line item, got %d", len(captured.LineItems))
	}
	line := captured.LineItems[0]
	if *line.Quantity != 2 || *line.PriceData.UnitAmount != 2500 || *line.PriceData.Currency != "usd" {
		t.Fatalf("unexpected line item %+v", line)
	}
	if line.PriceData.ProductData.Metadata["sku"] != "var-1" {
		t.Fatalf("sku metadata missing: %+v", line.PriceData.ProductData.Metadata)
	}
}

func TestStripeRefund(t *testing.T) {
	ctx := context.Background()
	var captured *stripe.RefundParams
	provider := newStubProvider(t, stripeClients{
		refunds: &stubRefundAPI{newFunc: func(params *stripe.RefundParams) (*stripe.Refund, error) {
			captured = params
			return &stripe.Refund{ID: "re_123"}, nil
		}},
	})

	result, err := provider.Refund(ctx, RefundRequest{
		PaymentRef:     "pi_123",
		Reason:         "duplicate",
		IdempotencyKey: "refund-ord_1",
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if result.RefundID != "re_123" || result.Status != StatusRefunded {
		t.Fatalf("unexpected result %+v", result)
	}
	if captured.PaymentIntent == nil || *captured.PaymentIntent != "pi_123" {
		t.Fatalf("payment intent not threaded: %+v", captured)
	}
	if captured.Reason == nil || *captured.Reason != string(stripe.RefundReasonDuplicate) {
		t.Fatalf("unexpected reason %+v", captured.Reason)
	}
}

func TestStripeLookupPayment(t *testing.T) {
	ctx := context.Background()
	provider := newStubProvider(t, stripeClients{
		intents: &stubIntentAPI{getFunc: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{
				ID:       id,
				Amount:   5000,
				Currency: "usd",
				Status:   stripe.PaymentIntentStatusSucceeded,
				Created:  time.Date(2026, 3, 14, 9, 58, 0, 0, time.UTC).Unix(),
			}, nil
		}},
	})

	details, err := provider.LookupPayment(ctx, LookupRequest{PaymentRef: "pi_123"})
	if err != nil {
		t.Fatalf("LookupPayment: %v", err)
	}
	if details.Status != StatusSucceeded || !details.Captured || details.Currency != "USD" {
		t.Fatalf("unexpected details %+v", details)
	}
	if details.CapturedAt == nil {
		t.Fatal("captured timestamp missing")
	}
}

func TestStripeErrorClassification(t *testing.T) {
	ctx := context.Background()

	// Server-side Stripe failures and raw transport failures are transient.
	provider := newStubProvider(t, stripeClients{
		sessions: &stubSessionAPI{newFunc: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			return nil, &stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "server sneezed"}
		}},
	})
	_, err := provider.CreateCheckoutSession(ctx, CheckoutSessionRequest{OrderID: "ord_1", Currency: "USD"})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("API error must be transient, got %v", err)
	}

	provider = newStubProvider(t, stripeClients{
		sessions: &stubSessionAPI{newFunc: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			return nil, errors.New("connection reset")
		}},
	})
	_, err = provider.CreateCheckoutSession(ctx, CheckoutSessionRequest{OrderID: "ord_1", Currency: "USD"})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("transport error must be transient, got %v", err)
	}

	// A card decline is the gateway saying no, not being down.
	provider = newStubProvider(t, stripeClients{
		refunds: &stubRefundAPI{newFunc: func(*stripe.RefundParams) (*stripe.Refund, error) {
			return nil, &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "card declined"}
		}},
	})
	_, err = provider.Refund(ctx, RefundRequest{PaymentRef: "pi_123"})
	if err == nil || errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("card error must not be transient, got %v", err)
	}
}

func TestMapStripePaymentMethod(t *testing.T) {
	cases := map[string]string{
		"":            "card",
		"card":        "card",
		"credit_card": "card",
		"Alipay":      "alipay",
		"wechat":      "wechat_pay",
		"wechat_pay":  "wechat_pay",
		"cheque":      "",
	}
	for in, want := range cases {
		if got := mapStripePaymentMethod(in); got != want {
			t.Errorf("mapStripePaymentMethod(%q) = %q, want %q", in, got, want)
		}
	}
}
