package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"familyart/pkg/domain"
)

// ErrBadWebhookSignature marks a webhook payload that failed signature
// verification. Handlers answer 400 and nothing is credited.
var ErrBadWebhookSignature = errors.New("invalid webhook signature")

// ErrUnknownPackage signals a checkout request for a package id that is
// not on sale.
var ErrUnknownPackage = errors.New("unknown credit package")

// DefaultPackages is the catalog offered when config does not override it.
func DefaultPackages() []domain.CreditPackage {
	return []domain.CreditPackage{
		{ID: "starter", Name: "Starter Pack", Credits: 10, PriceCents: 499},
		{ID: "family", Name: "Family Pack", Credits: 30, PriceCents: 999},
		{ID: "party", Name: "Party Pack", Credits: 100, PriceCents: 2499},
	}
}

// Packages lists the purchasable credit packages, cheapest first.
func (a *App) Packages() []domain.CreditPackage {
	out := make([]domain.CreditPackage, 0, len(a.packages))
	for _, pkg := range a.packages {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out
}

// CreateCheckoutSession opens a Stripe Checkout session for a credit
// package and returns the redirect URL. The purchaser email and package
// travel in session metadata so the webhook can credit the right user.
func (a *App) CreateCheckoutSession(email, packageID string) (string, error) {
	pkg, ok := a.packages[packageID]
	if !ok {
		return "", ErrUnknownPackage
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(pkg.Name),
						Description: stripe.String(fmt.Sprintf("%d credits for Family Art", pkg.Credits)),
					},
					UnitAmount: stripe.Int64(pkg.PriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:    stripe.String(a.frontendURL + "/credits?purchase=success"),
		CancelURL:     stripe.String(a.frontendURL + "/credits?purchase=cancelled"),
		CustomerEmail: stripe.String(email),
	}
	params.AddMetadata("userEmail", email)
	params.AddMetadata("packageId", pkg.ID)
	params.AddMetadata("credits", strconv.Itoa(pkg.Credits))

	session, err := a.newCheckoutSession(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return session.URL, nil
}

// HandleStripeWebhook verifies and applies a Stripe event. Only
// checkout.session.completed mutates state; everything else is
// acknowledged and dropped.
func (a *App) HandleStripeWebhook(payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadWebhookSignature, err)
	}
	if event.Type != "checkout.session.completed" {
		return nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	email := session.Metadata["userEmail"]
	if email == "" && session.CustomerEmail != "" {
		email = session.CustomerEmail
	}
	if email == "" {
		return errors.New("completed session carries no user email")
	}
	amount, err := strconv.Atoi(session.Metadata["credits"])
	if err != nil || amount <= 0 {
		pkg, ok := a.packages[session.Metadata["packageId"]]
		if !ok {
			return fmt.Errorf("completed session %s has no resolvable credit amount", session.ID)
		}
		amount = pkg.Credits
	}
	description := fmt.Sprintf("Purchased %d credits (session %s)", amount, session.ID)
	if err := a.ledger.AddCredits(email, amount, domain.TransactionPurchase, description); err != nil {
		return fmt.Errorf("credit purchase for %s: %w", email, err)
	}
	return nil
}
