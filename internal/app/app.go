// Package app orchestrates the outline, animation, and payment workflows
// over the stores and external providers.
package app

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"familyart/pkg/ai"
	"familyart/pkg/credits"
	"familyart/pkg/domain"
	"familyart/pkg/storage"
	"familyart/pkg/store"
)

// OutlineGenerator produces a coloring outline from a photo.
type OutlineGenerator interface {
	GenerateOutline(ctx context.Context, imageData []byte, mimeType, extraPrompt string) (ai.OutlineResult, error)
}

// VideoGenerator drives the image-to-video provider.
type VideoGenerator interface {
	CreateTask(ctx context.Context, imageRef, prompt, duration, mode string) (ai.VideoTask, error)
	GetTask(ctx context.Context, providerID string) (ai.VideoTask, error)
	Model() string
}

// Config wires required dependencies for the application core.
type Config struct {
	Store   store.Store
	Media   *storage.Media
	Outline OutlineGenerator
	Video   VideoGenerator
	Ledger  *credits.Ledger

	FrontendURL         string
	StripeWebhookSecret string
	Packages            []domain.CreditPackage

	VideoDuration   string
	VideoMode       string
	VideoResolution string
	PollInterval    time.Duration
	PollBudget      time.Duration
}

// App is the application core behind the HTTP handlers.
type App struct {
	store   store.Store
	media   *storage.Media
	outline OutlineGenerator
	video   VideoGenerator
	ledger  *credits.Ledger

	frontendURL   string
	webhookSecret string
	packages      map[string]domain.CreditPackage

	videoDuration   string
	videoMode       string
	videoResolution string
	pollInterval    time.Duration
	pollBudget      time.Duration

	newCheckoutSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// New constructs the application core.
func New(cfg Config) *App {
	packages := cfg.Packages
	if len(packages) == 0 {
		packages = DefaultPackages()
	}
	byID := make(map[string]domain.CreditPackage, len(packages))
	for _, pkg := range packages {
		byID[pkg.ID] = pkg
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	pollBudget := cfg.PollBudget
	if pollBudget <= 0 {
		pollBudget = 5 * time.Minute
	}
	duration := cfg.VideoDuration
	if duration == "" {
		duration = "5"
	}
	mode := cfg.VideoMode
	if mode == "" {
		mode = "std"
	}
	resolution := cfg.VideoResolution
	if resolution == "" {
		resolution = "720p"
	}
	return &App{
		store:              cfg.Store,
		media:              cfg.Media,
		outline:            cfg.Outline,
		video:              cfg.Video,
		ledger:             cfg.Ledger,
		frontendURL:        cfg.FrontendURL,
		webhookSecret:      cfg.StripeWebhookSecret,
		packages:           byID,
		videoDuration:      duration,
		videoMode:          mode,
		videoResolution:    resolution,
		pollInterval:       pollInterval,
		pollBudget:         pollBudget,
		newCheckoutSession: checkoutsession.New,
	}
}

// Ledger exposes the credit ledger.
func (a *App) Ledger() *credits.Ledger { return a.ledger }

// Store exposes the backing store.
func (a *App) Store() store.Store { return a.store }
