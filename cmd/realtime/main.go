package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	httpAdapter "github.com/lorrc/service-desk-realtime/internal/adapters/primary/http"
	"github.com/lorrc/service-desk-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/service-desk-realtime/internal/adapters/secondary/console"
	"github.com/lorrc/service-desk-realtime/internal/adapters/secondary/restapi"
	"github.com/lorrc/service-desk-realtime/internal/adapters/secondary/signalr"
	"github.com/lorrc/service-desk-realtime/internal/auth"
	"github.com/lorrc/service-desk-realtime/internal/config"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

func main() {
	var (
		envFiles   []string
		statusAddr string
		quiet      bool
	)
	flagSet := pflag.NewFlagSet("realtime", pflag.ContinueOnError)
	flagSet.StringSliceVar(&envFiles, "env-file", nil, "env file(s) to load before reading the environment (default: .env if present)")
	flagSet.StringVar(&statusAddr, "status-addr", "", "listen address of the status API, overrides STATUS_ADDR; \"off\" disables it")
	flagSet.BoolVar(&quiet, "quiet", false, "do not log live notifications and new tickets")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// 1. Load Configuration
	cfg, err := config.Load(envFiles...)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if statusAddr != "" {
		cfg.Status.Addr = statusAddr
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		AddSource:   cfg.IsDevelopment(),
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"api_url", cfg.API.URL,
	)
	logger.Debug("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Access Token
	tokens, err := newTokenSource(cfg, logger)
	if err != nil {
		logger.Error("failed to load access token", "error", err)
		os.Exit(1)
	}
	if tokens.Token() == "" {
		logger.Warn("no usable access token, hub connections stay idle until one is provided")
	}

	// 4. Secondary Adapters
	restClient, err := restapi.NewClient(restapi.Options{
		BaseURL:        cfg.API.URL,
		Timeout:        cfg.API.Timeout,
		RateLimit:      cfg.API.RateLimitRPS,
		Burst:          cfg.API.RateLimitBurst,
		RetryAttempts:  cfg.API.RetryAttempts,
		RetryDelay:     cfg.API.RetryDelay,
		AcceptLanguage: cfg.API.AcceptLanguage,
	}, tokens, logger)
	if err != nil {
		logger.Error("failed to create REST client", "error", err)
		os.Exit(1)
	}

	factory := signalr.NewFactory(signalr.Options{
		KeepAliveInterval: cfg.Hub.KeepAliveInterval,
		ServerTimeout:     cfg.Hub.ServerTimeout,
		HandshakeTimeout:  cfg.Hub.HandshakeTimeout,
	}, logger)

	// 5. Core Services
	dispatcher := services.NewDispatcher(logger)
	negotiator := services.NewNegotiator(factory, cfg.Hub.CandidateTimeout, logger)

	hubBase := cfg.HubBaseURL()
	hubs := []domain.HubSpec{
		{
			Name:       domain.HubNotifications,
			Candidates: domain.BuildCandidates(hubBase, cfg.Hub.NotificationsPath),
			Targets:    domain.NotificationTargets(),
		},
		{
			Name:       domain.HubTickets,
			Candidates: domain.BuildCandidates(hubBase, cfg.Hub.TicketsPath),
			Targets:    domain.TicketTargets(),
		},
	}
	manager := services.NewConnectionManager(negotiator, tokens, dispatcher, hubs, services.ManagerOptions{
		ReconnectDelays: cfg.Hub.ReconnectDelays,
	}, logger)

	notifications := services.NewNotificationReadModel(restClient, logger)
	tickets := services.NewTicketLiveSync(restClient, cfg.API.PageSize, logger)

	deps := services.RealtimeDeps{
		Manager:       manager,
		Dispatcher:    dispatcher,
		Notifications: notifications,
		Tickets:       tickets,
		Tokens:        tokens,
		Logger:        logger,
	}
	if !quiet {
		deps.Announcer = console.NewAnnouncer(logger)
	}
	realtime := services.NewRealtime(deps)

	// 6. Status API and live feed
	var srv *http.Server
	if cfg.Status.Addr != "off" {
		feed := websocket.NewHub(logger)
		go feed.Run(ctx)
		detach := feed.Attach(websocket.Sources{
			Connections:   manager,
			Notifications: notifications,
			Tickets:       tickets,
		})
		defer detach()

		srv = &http.Server{
			Addr: cfg.Status.Addr,
			Handler: httpAdapter.NewRouter(httpAdapter.RouterConfig{
				Connections:    realtime,
				Notifications:  notifications,
				Tickets:        tickets,
				AllowedOrigins: cfg.Status.AllowedOrigins,
				Version:        cfg.App.Version,
				Logger:         logger,
				Feed:           websocket.NewHandler(feed, cfg.Status.AllowedOrigins, logger),
			}),
			ReadTimeout:  cfg.Status.ReadTimeout,
			WriteTimeout: cfg.Status.WriteTimeout,
		}

		go func() {
			logger.Info("status server starting", "addr", cfg.Status.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", "error", err)
				stop()
			}
		}()
	}

	// 7. Start Realtime Layer
	if err := realtime.Init(ctx); err != nil {
		logger.Warn("realtime initialisation interrupted", "error", err)
	}

	go tokens.Watch(ctx, cfg.Auth.ReloadInterval, func() {
		if err := realtime.Reauthenticate(ctx); err != nil {
			logger.Warn("reauthentication interrupted", "error", err)
		}
	})

	// 8. Wait for shutdown
	<-ctx.Done()
	logger.Info("shutdown signal received")

	realtime.Shutdown()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Status.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func newTokenSource(cfg *config.Config, logger *slog.Logger) (*auth.TokenSource, error) {
	if cfg.Auth.TokenFile != "" {
		return auth.NewFileTokenSource(cfg.Auth.TokenFile, logger)
	}
	return auth.NewStaticTokenSource(cfg.Auth.Token, logger), nil
}
