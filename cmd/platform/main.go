package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-co-op/gocron"

	checksrest "github.com/hiv-care-hub/platform/internal/adapters/checks/rest"
	emrrest "github.com/hiv-care-hub/platform/internal/adapters/emr/rest"
	"github.com/hiv-care-hub/platform/internal/adapters/medref"
	"github.com/hiv-care-hub/platform/internal/adapters/medref/pharmacy"
	medrefrest "github.com/hiv-care-hub/platform/internal/adapters/medref/rest"
	"github.com/hiv-care-hub/platform/internal/adapters/protocol"
	"github.com/hiv-care-hub/platform/internal/adapters/protocol/clinicdb"
	protocolrest "github.com/hiv-care-hub/platform/internal/adapters/protocol/rest"
	"github.com/hiv-care-hub/platform/internal/audit"
	"github.com/hiv-care-hub/platform/internal/catalog"
	"github.com/hiv-care-hub/platform/internal/medicine"
	"github.com/hiv-care-hub/platform/internal/notification"
	"github.com/hiv-care-hub/platform/internal/prescription"
	prescriptionapi "github.com/hiv-care-hub/platform/internal/prescription/api"
	"github.com/hiv-care-hub/platform/internal/shared/auth"
	"github.com/hiv-care-hub/platform/internal/shared/config"
	"github.com/hiv-care-hub/platform/internal/shared/database"
	"github.com/hiv-care-hub/platform/internal/shared/events"
	"github.com/hiv-care-hub/platform/internal/shared/logging"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
	secmiddleware "github.com/hiv-care-hub/platform/internal/shared/middleware"
	"github.com/hiv-care-hub/platform/internal/treatment"
	"github.com/hiv-care-hub/platform/internal/validation"
)

// App holds the wired application dependencies
type App struct {
	Config    *config.Config
	ClinicDB  *database.DB
	Bus       *events.Bus
	Protocols protocol.Adapter
	Medicines medref.Adapter
	Cache     *medicine.Cache
	Scheduler *gocron.Scheduler
	Notifier  *notification.Service
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.Server.Env)

	app := &App{Config: cfg}

	// Event bus (KurrentDB) carries domain events and the audit trail.
	// The workflow itself keeps working without it.
	bus, err := events.NewBus(ctx, cfg.EventStore)
	if err != nil {
		slog.Warn("event store not available, running without event streaming", "error", err)
	} else {
		app.Bus = bus
		defer bus.Close()
		slog.Info("event bus initialized", "host", cfg.EventStore.Host, "port", cfg.EventStore.Port)
	}

	// Protocol catalog collaborator
	switch cfg.Catalog.Mode {
	case "clinicdb":
		db, err := database.New(ctx, cfg.Catalog.Database)
		if err != nil {
			slog.Error("clinic EMR database not available", "error", err)
			os.Exit(1)
		}
		app.ClinicDB = db
		defer db.Close()
		app.Protocols = clinicdb.New(db)
	default:
		app.Protocols = protocolrest.New(cfg.Catalog)
	}
	slog.Info("protocol catalog configured", "source", app.Protocols.SourceSystem())

	// Medicine reference collaborator
	switch cfg.MedicineRef.Mode {
	case "pharmacy":
		pharmacyAdapter, err := pharmacy.New(ctx, pharmacy.DefaultConfig(cfg.MedicineRef.Pharmacy))
		if err != nil {
			slog.Error("pharmacy database not available", "error", err)
			os.Exit(1)
		}
		defer pharmacyAdapter.Close()
		app.Medicines = pharmacyAdapter
	default:
		app.Medicines = medrefrest.New(cfg.MedicineRef)
	}
	slog.Info("medicine reference configured", "source", app.Medicines.SourceSystem())

	// Medicine cache with daily refresh
	app.Cache = medicine.NewCache(app.Medicines, cfg.MedicineRef.PageSize)
	scheduler, err := medicine.StartScheduler(ctx, app.Cache, cfg.MedicineRef.RefreshAt)
	if err != nil {
		slog.Error("failed to start medicine refresh scheduler", "error", err)
		os.Exit(1)
	}
	app.Scheduler = scheduler
	defer scheduler.Stop()

	// Clinician notifications
	app.Notifier = buildNotifier(cfg.Notify)
	app.Notifier.Start(2)
	defer app.Notifier.Stop()

	// Core services
	catalogService := catalog.NewService(app.Protocols, app.Cache, "HIV")
	checksAdapter := checksrest.New(cfg.Validation.BaseURL, "", cfg.Validation.CheckTimeout)
	orchestrator := validation.NewOrchestrator(checksAdapter, cfg.Validation.CheckTimeout)
	emrAdapter := emrrest.New(cfg.Treatment.BaseURL, "", cfg.Treatment.Timeout)
	finalizer := treatment.NewFinalizer(emrAdapter, app.Notifier)

	var eventBus events.EventBus
	if app.Bus != nil {
		eventBus = app.Bus
	}
	prescriptionService := prescription.NewService(
		catalogService,
		app.Cache,
		orchestrator,
		finalizer,
		eventBus,
		cfg.Prescription.SessionTTL,
		cfg.Prescription.ReapInterval,
	)
	prescriptionService.StartReaper(ctx)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RequestLogger)
	r.Use(secmiddleware.BodyLimit(1 << 20))
	r.Use(secmiddleware.CORS([]string{"*"}))
	r.Use(metrics.Middleware)

	rateLimiter := secmiddleware.NewIPRateLimiter(20, 40)
	r.Use(rateLimiter.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.Mount("/protocols", catalog.NewHandler(catalogService).Routes())
		r.Mount("/prescriptions", prescriptionapi.NewHandler(prescriptionService).Routes())

		// Audit trail lives on the event store
		if app.Bus != nil {
			auditRepo := audit.NewEsdbRepository(app.Bus.Client())
			if err := auditRepo.Initialize(ctx); err != nil {
				slog.Warn("audit initialization failed", "error", err)
			}
			r.Mount("/audit", audit.NewHandler(auditRepo).Routes())

			subscriber := audit.NewSubscriber(auditRepo, app.Bus)
			if err := subscriber.Start(ctx); err != nil {
				slog.Warn("audit subscriber failed to start", "error", err)
			} else {
				slog.Info("audit subscriber started")
			}
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("shutting down server")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		close(done)
	}()

	slog.Info("prescription care hub listening",
		"env", cfg.Server.Env,
		"addr", srv.Addr,
		"catalog", cfg.Catalog.Mode,
		"medicine_ref", cfg.MedicineRef.Mode,
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("server stopped")
}

// buildNotifier assembles the notification service from configured providers
func buildNotifier(cfg config.NotifyConfig) *notification.Service {
	var providers []notification.Provider
	for _, name := range cfg.Providers {
		switch name {
		case "log":
			providers = append(providers, notification.NewLogProvider())
		case "webhook":
			if cfg.WebhookURL == "" {
				slog.Warn("webhook notification provider configured without NOTIFY_WEBHOOK_URL, skipping")
				continue
			}
			providers = append(providers, notification.NewWebhookProvider(cfg.WebhookURL))
		default:
			slog.Warn("unknown notification provider", "provider", name)
		}
	}
	if len(providers) == 0 {
		providers = append(providers, notification.NewLogProvider())
	}
	return notification.NewService(providers...)
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "HIV Care Hub Prescription Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		probe := func(name string, fn func(context.Context) error) {
			if err := fn(r.Context()); err != nil {
				checks[name] = "not ready: " + err.Error()
			} else {
				checks[name] = "ready"
			}
		}

		probe("protocol_catalog", app.Protocols.Health)
		probe("medicine_reference", app.Medicines.Health)

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["eventstore"] = "not ready: " + err.Error()
			} else {
				checks["eventstore"] = "ready"
			}
		} else {
			checks["eventstore"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
