package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/joho/godotenv"

	"roadmapper/application"
	"roadmapper/database"
	"roadmapper/domain/contracts"
	"roadmapper/infrastructure/config"
	"roadmapper/infrastructure/repositories"
	"roadmapper/infrastructure/spproxy"
	"roadmapper/infrastructure/spschema"
	"roadmapper/interfaces/web/handlers"
	"roadmapper/interfaces/web/presenters"
	"roadmapper/logging"
	"roadmapper/spauth"
)

func main() {
	// Initialize configuration
	loadEnvironment()
	cfg := config.LoadAppConfigFromEnv()

	// Initialize logging
	logger := initializeLogging(cfg)

	// Initialize database
	db := initializeDatabase(cfg, logger)
	defer db.Close()

	// Build dependencies
	deps := buildDependencies(db, cfg, logger)

	// Setup routes and start server
	router := setupRoutes(deps, cfg)
	startServer(router, cfg.HTTPAddr, logger)
}

// GatewayServices holds the SharePoint-facing service layer.
type GatewayServices struct {
	Resolver *application.InstanceResolver
	Auth     *spauth.Provider
	Proxy    *spproxy.Proxy
	Engine   *spschema.Engine
}

// PresentationLayer groups the HTTP-facing components.
type PresentationLayer struct {
	InstancePresenter *presenters.InstancePresenter

	GatewayHandlers *handlers.GatewayHandlers
	AdminHandlers   *handlers.AdminHandlers
	HealthHandlers  *handlers.HealthHandlers
}

// Dependencies holds all application dependencies organized by layer.
type Dependencies struct {
	DB     *database.Database
	Logger *logging.Logger

	InstanceRepo contracts.InstanceRepository

	Services     *GatewayServices
	Presentation *PresentationLayer
}

func loadEnvironment() {
	if err := godotenv.Load(); err != nil {
		println("No .env file found, using environment variables")
	} else {
		println("Loaded configuration from .env file")
	}
}

func initializeLogging(cfg *config.AppConfig) *logging.Logger {
	logger := logging.NewLogger(cfg.Logging)
	logging.SetDefault(logger)

	logger.Info("Gateway starting",
		"version", "1.0.0",
		"env", cfg.Gateway.Env,
		"log_level", cfg.Logging.Level,
		"log_format", cfg.Logging.Format,
		"db_path", cfg.Database.Path,
	)

	if cfg.Gateway.DisableDispatch {
		logger.Warn("SharePoint dispatch is disabled, all proxy calls will return 503")
	}

	return logger
}

func initializeDatabase(cfg *config.AppConfig, logger *logging.Logger) *database.Database {
	db, err := database.New(*cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	return db
}

// buildGatewayServices wires the resolution, auth, proxy and
// provisioning layers.
func buildGatewayServices(repo contracts.InstanceRepository, cfg *config.AppConfig) *GatewayServices {
	gw := cfg.Gateway

	resolver := application.NewInstanceResolver(repo, gw.ResolverTTL, gw.DefaultInstance)
	auth := spauth.NewProvider(gw.Env)

	transports := spproxy.NewFactory(auth, gw.ForceCurl, gw.CurlPath, gw.CurlTimeout)
	digests := spproxy.NewDigestCache()

	catalog := spschema.Catalog()
	allow := spproxy.NewAllowList(spschema.AllowedTitles(catalog), gw.DecodeOData)

	proxy := spproxy.NewProxy(transports, digests, allow, gw.Env, gw.DisableDispatch)
	engine := spschema.NewEngine(transports, digests, repo, catalog, gw.Env)

	return &GatewayServices{
		Resolver: resolver,
		Auth:     auth,
		Proxy:    proxy,
		Engine:   engine,
	}
}

// buildPresentationLayer creates presenters and handlers.
func buildPresentationLayer(db *database.Database, services *GatewayServices, cfg *config.AppConfig) *PresentationLayer {
	instancePresenter := presenters.NewInstancePresenter(cfg.Gateway.Env)

	return &PresentationLayer{
		InstancePresenter: instancePresenter,
		GatewayHandlers:   handlers.NewGatewayHandlers(services.Resolver, services.Proxy),
		AdminHandlers:     handlers.NewAdminHandlers(services.Resolver, services.Engine, instancePresenter),
		HealthHandlers:    handlers.NewHealthHandlers(db),
	}
}

// buildDependencies creates all application dependencies.
func buildDependencies(db *database.Database, cfg *config.AppConfig, logger *logging.Logger) *Dependencies {
	repo := repositories.NewSqliteInstanceRepository(db)
	services := buildGatewayServices(repo, cfg)
	presentation := buildPresentationLayer(db, services, cfg)

	return &Dependencies{
		DB:           db,
		Logger:       logger,
		InstanceRepo: repo,
		Services:     services,
		Presentation: presentation,
	}
}

func setupRoutes(deps *Dependencies, cfg *config.AppConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	setupHTTPLogging(r, deps, cfg)
	r.Use(middleware.Recoverer)

	// System endpoints
	r.Get("/health", deps.Presentation.HealthHandlers.Liveness)

	// SharePoint gateway
	setupGatewayRoutes(r, deps)

	// Instance administration
	setupAdminRoutes(r, deps)

	return r
}

func setupHTTPLogging(r *chi.Mux, deps *Dependencies, cfg *config.AppConfig) {
	if cfg.HTTPLogPath == "" {
		// No HTTP logging configured, skip
		return
	}

	logFile, err := os.OpenFile(cfg.HTTPLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		deps.Logger.Error("Failed to open HTTP log file", "error", err, "path", cfg.HTTPLogPath)
		return
	}
	// Note: logFile stays open for the server lifetime

	httpLogger := httplog.NewLogger("roadmapper", httplog.Options{
		Writer: logFile,
		JSON:   true,
	})
	r.Use(httplog.RequestLogger(httpLogger))

	deps.Logger.Info("HTTP request logging enabled", "path", cfg.HTTPLogPath)
}

func setupGatewayRoutes(r *chi.Mux, deps *Dependencies) {
	// Every verb funnels through the same dispatch path; the proxy owns
	// method semantics (MERGE tunneling, digest injection).
	r.HandleFunc("/api/sp/*", deps.Presentation.GatewayHandlers.Dispatch)
}

func setupAdminRoutes(r *chi.Mux, deps *Dependencies) {
	r.Get("/api/instances", deps.Presentation.AdminHandlers.ListInstances)
	r.Get("/api/instances/{slug}/health", deps.Presentation.AdminHandlers.GetHealth)

	// Provisioning
	r.Post("/api/instances/{slug}/provision", deps.Presentation.AdminHandlers.Provision)
	r.Post("/api/instances/{slug}/provision/{key}", deps.Presentation.AdminHandlers.ProvisionList)

	// Schema drift
	r.Get("/api/instances/{slug}/schema", deps.Presentation.AdminHandlers.SchemaOverview)
	r.Post("/api/instances/{slug}/schema/ignore", deps.Presentation.AdminHandlers.SetSchemaIgnore)
}

func startServer(router *chi.Mux, addr string, logger *logging.Logger) {
	server := &http.Server{Addr: addr, Handler: router}

	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sig
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(serverCtx, 30*time.Second)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				logger.Error("Graceful shutdown timed out, forcing exit")
				os.Exit(1)
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			os.Exit(1)
		}
		serverStopCtx()
	}()

	logger.Info("Server starting", "address", addr)
	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}

	<-serverCtx.Done()
	logger.Info("Server stopped")
}
