package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"enroll/internal/audit"
	"enroll/internal/confirmation"
	"enroll/internal/expr"
	"enroll/internal/forms"
	"enroll/internal/notification"
	"enroll/internal/platform/config"
	"enroll/internal/platform/health"
	"enroll/internal/platform/logger"
	"enroll/internal/profile"
	"enroll/internal/registration/handler"
	regmetrics "enroll/internal/registration/metrics"
	"enroll/internal/registration/service"
	"enroll/internal/registration/store"
	"enroll/internal/registry"
	"enroll/internal/seeder"
	request "enroll/pkg/platform/middleware/request"
)

// main wires the stores, the confirmation manager, and the lifecycle service
// behind the chi router. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing enroll",
		"addr", cfg.Addr,
		"confirmation_ttl", cfg.ConfirmationTTL.String(),
	)

	requests := store.NewInMemoryRequestStore()
	invitations := store.NewInMemoryInvitationStore()
	formStore := store.NewInMemoryFormStore()
	profiles := store.NewInMemoryProfileStore(profile.DefaultRegistry())
	reg := registry.NewInMemoryRegistry()

	if err := seeder.New(formStore, profiles, reg, log).SeedAll(context.Background()); err != nil {
		log.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	codec := confirmation.NewCodec(cfg.SigningKey, cfg.TokenIssuer, cfg.ConfirmationTTL)
	manager := confirmation.NewManager(codec, confirmation.NewInMemoryTokenStore(),
		confirmation.WithLogger(log))
	manager.RegisterFacility(confirmation.OwnerRequest, service.NewRequestFacility(requests))
	manager.RegisterFacility(confirmation.OwnerEntity, service.NewEntityFacility(reg))

	auditPublisher := audit.NewPublisher(audit.NewInMemoryStore(),
		audit.WithAsyncBuffer(256),
		audit.WithPublisherLogger(log))
	defer auditPublisher.Close()

	// No external policy service in the demo wiring; a nil authorizer
	// admits every actor named in X-Actor.
	svc := service.New(service.Deps{
		Requests:      requests,
		Invitations:   invitations,
		Forms:         formStore,
		Profiles:      profiles,
		Registry:      reg,
		Preprocessor:  forms.NewPreprocessor(invitations),
		Evaluator:     expr.New(expr.WithTimeout(cfg.EvalTimeout)),
		Confirmations: manager,
		Notifier:      notification.NewLogNotifier(log),
	},
		service.WithLogger(log),
		service.WithMetrics(regmetrics.New()),
		service.WithAuditPublisher(auditPublisher),
	)

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(request.Logger(log))
	r.Use(request.LatencyMiddleware(request.NewMetrics()))
	r.Use(request.BodyLimit(cfg.MaxBodyBytes))
	r.Use(request.ContentTypeJSON)

	r.Get("/health", health.New().Handle)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	handler.New(svc, log).Register(r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
