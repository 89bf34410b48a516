package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"
)

func signWebhookPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutCompletedEvent(sessionID, email, packageID, creditsMeta string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": %q,
				"metadata": {"userEmail": %q, "packageId": %q, "credits": %q}
			}
		}
	}`, sessionID, email, packageID, creditsMeta))
}

func TestWebhookCreditsPurchase(t *testing.T) {
	ta := newTestApp(t)
	mustUser(ta, "buyer@example.com", 0)
	payload := checkoutCompletedEvent("cs_1", "buyer@example.com", "starter", "10")
	if err := ta.app.HandleStripeWebhook(payload, signWebhookPayload(payload, "whsec_test")); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	balance, _ := ta.app.Ledger().GetCredits("buyer@example.com")
	if balance != 10 {
		t.Fatalf("balance = %d, want 10", balance)
	}
	history, _ := ta.app.Ledger().GetCreditHistory("buyer@example.com", 10)
	if len(history) != 1 || history[0].Type != "purchase" {
		t.Fatalf("purchase transaction missing: %+v", history)
	}
}

func TestWebhookBadSignatureMutatesNothing(t *testing.T) {
	ta := newTestApp(t)
	mustUser(ta, "buyer@example.com", 0)
	payload := checkoutCompletedEvent("cs_1", "buyer@example.com", "starter", "10")
	err := ta.app.HandleStripeWebhook(payload, signWebhookPayload(payload, "wrong-secret"))
	if !errors.Is(err, ErrBadWebhookSignature) {
		t.Fatalf("err = %v, want ErrBadWebhookSignature", err)
	}
	if err := ta.app.HandleStripeWebhook(payload, ""); !errors.Is(err, ErrBadWebhookSignature) {
		t.Fatalf("missing header err = %v, want ErrBadWebhookSignature", err)
	}
	balance, _ := ta.app.Ledger().GetCredits("buyer@example.com")
	if balance != 0 {
		t.Fatalf("unverified webhook credited %d", balance)
	}
}

func TestWebhookRederivesCreditsFromPackage(t *testing.T) {
	ta := newTestApp(t)
	mustUser(ta, "buyer@example.com", 0)
	payload := checkoutCompletedEvent("cs_1", "buyer@example.com", "family", "")
	if err := ta.app.HandleStripeWebhook(payload, signWebhookPayload(payload, "whsec_test")); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	balance, _ := ta.app.Ledger().GetCredits("buyer@example.com")
	if balance != 30 {
		t.Fatalf("balance = %d, want the family pack's 30", balance)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	ta := newTestApp(t)
	mustUser(ta, "buyer@example.com", 0)
	payload := []byte(`{"id": "evt_2", "type": "payment_intent.created", "data": {"object": {}}}`)
	if err := ta.app.HandleStripeWebhook(payload, signWebhookPayload(payload, "whsec_test")); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	balance, _ := ta.app.Ledger().GetCredits("buyer@example.com")
	if balance != 0 {
		t.Fatalf("unrelated event credited %d", balance)
	}
}

func TestCreateCheckoutSessionCarriesMetadata(t *testing.T) {
	ta := newTestApp(t)
	var captured *stripe.CheckoutSessionParams
	ta.app.newCheckoutSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		captured = params
		return &stripe.CheckoutSession{URL: "https://checkout.stripe.test/cs_1"}, nil
	}
	url, err := ta.app.CreateCheckoutSession("buyer@example.com", "starter")
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if url != "https://checkout.stripe.test/cs_1" {
		t.Fatalf("url = %s", url)
	}
	if captured == nil {
		t.Fatalf("session params not passed through")
	}
	meta := captured.Metadata
	if meta["userEmail"] != "buyer@example.com" || meta["packageId"] != "starter" || meta["credits"] != "10" {
		t.Fatalf("metadata = %+v", meta)
	}
	if len(captured.LineItems) != 1 || *captured.LineItems[0].PriceData.UnitAmount != 499 {
		t.Fatalf("line items = %+v", captured.LineItems)
	}
}

func TestCreateCheckoutSessionUnknownPackage(t *testing.T) {
	ta := newTestApp(t)
	if _, err := ta.app.CreateCheckoutSession("buyer@example.com", "mega"); !errors.Is(err, ErrUnknownPackage) {
		t.Fatalf("err = %v, want ErrUnknownPackage", err)
	}
}
