package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/api"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/commands"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/config"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/console"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/database"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/logging"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/metrics"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/netinfo"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/notify"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/panel"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/rcon"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/schedule"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/server"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/state"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/websocket"
)

// serverID names the single managed server in storage and logs.
const serverID = "default"

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the panel (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up logging
	if err := setupLogging(cfg); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logging.Close()

	// Initialize database
	db, err := database.NewDBWithPool(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize activity logger
	activityLogger, err := logging.NewActivityLogger(db.DB, filepath.Join(cfg.Storage.DataDir, "logs", "activity"))
	if err != nil {
		return fmt.Errorf("failed to initialize activity logger: %w", err)
	}
	defer activityLogger.Close()

	store, err := state.Open(cfg.Storage.StateFile)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}

	executable := cfg.Process.Executable
	if executable == "" && store.Has(state.KeyLastExecutable) {
		executable = store.Get(state.KeyLastExecutable)
	}

	gracePeriod := config.ParseDuration(cfg.Process.GracePeriod, server.DefaultGracePeriod)
	killTimeout := config.ParseDuration(cfg.Process.KillTimeout, server.DefaultKillTimeout)
	controller := server.NewController(server.Options{
		ServerID:     serverID,
		Executable:   executable,
		GracePeriod:  gracePeriod,
		KillTimeout:  killTimeout,
		BacklogLines: cfg.Process.BacklogLines,
	})

	if cfg.RCON.Enabled {
		rc := rcon.NewClient(rcon.FromConfig(cfg.RCON))
		defer rc.Close()
		controller.SetRemoteConsole(rc)
		log.Printf("Console commands go through RCON at %s", rc.Address())
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	webhookURL := ""
	if cfg.Webhook.Enabled {
		webhookURL = cfg.Webhook.URL
	}
	discord := notify.NewDiscord(webhookURL)
	store.Set(state.KeyDiscordWebhookURL, webhookURL)

	logWriter, err := console.NewLogWriter(console.LogWriterConfig{
		ServerID:      serverID,
		LogDir:        cfg.Storage.ConsoleLogDir,
		RetentionDays: cfg.Process.ConsoleLogRetentionDays,
		DB:            db.DB,
	})
	if err != nil {
		return fmt.Errorf("failed to open console log: %w", err)
	}
	defer logWriter.Close()

	maintenance, err := schedule.NewMaintenance(schedule.DefaultMaintenanceSchedule)
	if err != nil {
		return err
	}
	maintenance.Add("console log retention", func() error {
		return console.CleanupOldLogs(db.DB, cfg.Process.ConsoleLogRetentionDays)
	})
	if days := cfg.Logging.ActivityRetentionDays; days > 0 {
		maintenance.Add("activity retention", func() error {
			return activityLogger.CleanupOldActivities(time.Duration(days) * 24 * time.Hour)
		})
	}
	maintenance.RunAll()
	maintenance.Start()
	defer maintenance.Stop()

	panelService := panel.New(panel.Options{
		Controller:         controller,
		State:              store,
		DB:                 db,
		Activity:           activityLogger,
		Notifier:           discord,
		Resolver:           netinfo.NewResolver(cfg.Network.PublicIPURL, config.ParseDuration(cfg.Network.Timeout, 10*time.Second)),
		Publisher:          hub,
		LogWriter:          logWriter,
		WebhookTitle:       cfg.Webhook.Title,
		WebhookDescription: cfg.Webhook.Description,
		GameINI:            cfg.Network.GameINI,
	})
	panelService.Start()
	defer panelService.Stop()

	// Start metrics collector
	registry := metrics.NewRegistry()
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics, serverID, controller, db, hub, metrics.NewGauges(registry))
		collector.OnSample = panelService.HandleSample
		collector.Start()
		defer collector.Stop()
	}

	catalog := commands.NewCatalog(cfg.Commands.ModsDir)
	if cfg.Commands.ModsDir != "" {
		if err := catalog.Reload(); err != nil {
			log.Printf("Command discovery failed: %v", err)
		}
		if cfg.Commands.Watch {
			watcher, err := commands.Watch(catalog, nil)
			if err != nil {
				log.Printf("Cannot watch %s for command changes: %v", cfg.Commands.ModsDir, err)
			} else {
				defer watcher.Close()
			}
		}
	}

	var scheduler *schedule.RestartScheduler
	if cfg.Process.RestartSchedule != "" {
		scheduler, err = schedule.NewRestartScheduler(controller, cfg.Process.RestartSchedule, gracePeriod+killTimeout+time.Minute)
		if err != nil {
			return err
		}
		scheduler.OnRun = func(result schedule.Result) {
			if result.Skipped {
				return
			}
			errMsg := ""
			if result.Err != nil {
				errMsg = result.Err.Error()
			}
			activityLogger.LogServerRestart(serverID, "scheduler", result.Err == nil, errMsg)
		}
		scheduler.Start()
	}

	log.Println("All panel components initialized successfully")

	deps := api.Dependencies{
		Config:     cfg,
		ConfigPath: config.GetConfigPath(),
		DB:         db,
		State:      store,
		Controller: controller,
		Status:     panelService,
		Activity:   activityLogger,
		Hub:        hub,
		Catalog:    catalog,
		Webhook:    discord,
		Registry:   registry,
	}
	if collector != nil {
		deps.Sampler = collector
	}
	router, shutdownOps := api.SetupRouter(deps)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Stop and restart answer only after the process tree is gone.
		WriteTimeout: gracePeriod + killTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", httpServer.Addr)

		var err error
		if cfg.Server.TLS.Enabled {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Printf("Received %s, shutting down...", sig)
	case err := <-serveErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}

	// The game server goes down before the API so no request can start it again.
	log.Println("Stopping game server...")
	if err := controller.Shutdown(shutdownCtx); err != nil {
		log.Printf("Game server shutdown reported: %v", err)
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}
	shutdownOps()

	log.Println("Server exited")
	return runErr
}
