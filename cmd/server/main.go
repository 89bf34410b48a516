package main

import (
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"

	"familyart/internal/app"
	"familyart/internal/config"
	"familyart/internal/googleauth"
	"familyart/internal/server"
	"familyart/internal/util"
	"familyart/pkg/ai"
	"familyart/pkg/credits"
	"familyart/pkg/storage"
	"familyart/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var st store.Store
	if cfg.Simulated {
		st = store.NewMemoryStore()
	} else {
		st, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init store: %v", err)
		}
	}

	var media *storage.Media
	if cfg.Simulated {
		media = storage.NewMedia(storage.NewNullObjectStore())
	} else {
		objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioPublicBaseURL, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		media = storage.NewMedia(objects)
	}

	var verifier server.TokenVerifier
	if cfg.GoogleClientID != "" {
		verifier, err = googleauth.NewVerifier(googleauth.Config{
			ClientID: cfg.GoogleClientID,
			JWKSURL:  cfg.GoogleJWKSURL,
		})
		if err != nil {
			log.Fatalf("failed to init google verifier: %v", err)
		}
	} else if cfg.Simulated {
		// Local development only: the bearer token is taken as a plain
		// email address.
		verifier = devVerifier{}
	} else {
		log.Fatalf("googleClientID is required outside simulated mode")
	}

	// The generation endpoints answer 503 before reaching these clients
	// in simulated mode, so they stay nil there.
	var outlineClient app.OutlineGenerator
	var videoClient app.VideoGenerator
	if !cfg.Simulated {
		outlineClient, err = ai.NewOutlineClient(cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("failed to init outline client: %v", err)
		}
		videoClient, err = ai.NewVideoClient(cfg.VideoAccessKey, cfg.VideoSecretKey, cfg.VideoAPIBase, cfg.VideoModel)
		if err != nil {
			log.Fatalf("failed to init video client: %v", err)
		}
	}

	stripe.Key = cfg.StripeSecretKey

	ledger := credits.NewLedger(st)
	appCore := app.New(app.Config{
		Store:               st,
		Media:               media,
		Outline:             outlineClient,
		Video:               videoClient,
		Ledger:              ledger,
		FrontendURL:         cfg.FrontendURL,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		VideoDuration:       cfg.VideoDuration,
		VideoMode:           cfg.VideoMode,
	})

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		TokenVerifier:              verifier,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		AdminEmails:                cfg.AdminEmails,
		Production:                 cfg.IsProduction(),
		Simulated:                  cfg.Simulated,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	// The animation endpoint blocks for up to the poll budget, so the
	// write timeout must outlast it.
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr, "simulated", cfg.Simulated)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

type devVerifier struct{}

func (devVerifier) Verify(token string) (googleauth.Claims, error) {
	email := strings.ToLower(strings.TrimSpace(token))
	if !strings.Contains(email, "@") {
		return googleauth.Claims{}, errors.New("dev token must be an email address")
	}
	return googleauth.Claims{Subject: email, Email: email}, nil
}
