package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/api/handlers"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/api/middleware"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/auth"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/commands"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/config"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/console"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/database"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/logging"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/metrics"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/state"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/websocket"
)

// Dependencies are the services the router exposes.
type Dependencies struct {
	Config     *config.Config
	ConfigPath string
	DB         *database.DB
	State      *state.Store
	Controller handlers.Controller
	Status     handlers.StatusProvider
	Sampler    handlers.LatestSampler
	Activity   *logging.ActivityLogger
	Hub        *websocket.Hub
	Catalog    *commands.Catalog
	Webhook    handlers.Webhook
	Registry   *prometheus.Registry
}

// SetupRouter configures and returns the HTTP router. The returned function
// waits for lifecycle requests still in flight.
func SetupRouter(deps Dependencies) (*gin.Engine, func()) {
	cfg := deps.Config

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.Security.CORS))
	router.Use(middleware.RateLimit(cfg.Security.RateLimit))
	router.Use(middleware.SecurityHeaders(cfg.Server.TLS.Enabled))

	history := console.NewCommandHistory(deps.DB.DB)

	serverHandler := handlers.NewServerHandler(deps.Controller, deps.Status, deps.State, deps.DB, deps.Sampler, history, deps.Activity)
	consoleHandler := handlers.NewConsoleHandler(deps.Controller, deps.Hub, history, deps.Catalog, deps.Activity, cfg.Security.CORS.AllowedOrigins, cfg.Process.BacklogLines)
	settingsHandler := handlers.NewSettingsHandler(cfg, deps.ConfigPath, deps.Controller, deps.Webhook, deps.State, deps.Activity)

	protected := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, config.ParseDuration(cfg.Auth.TokenDuration, 0))
		protected.Use(middleware.Auth(jwtManager))
	} else {
		log.Println("[API] Authentication is disabled; requests are attributed to the local operator")
		protected.Use(middleware.Anonymous())
	}
	{
		srv := protected.Group("/server")
		{
			srv.GET("/status", serverHandler.GetStatus)
			srv.POST("/start", serverHandler.StartServer)
			srv.POST("/stop", serverHandler.StopServer)
			srv.POST("/restart", serverHandler.RestartServer)
			srv.POST("/command", serverHandler.ExecuteCommand)
			srv.PUT("/executable", serverHandler.SetExecutable)
			srv.GET("/metrics", serverHandler.GetMetrics)
			srv.GET("/metrics/history", serverHandler.GetMetricsHistory)
			srv.GET("/activity", serverHandler.GetActivity)

			srv.GET("/console", consoleHandler.GetConsole)
			srv.GET("/console/history", consoleHandler.GetCommandHistory)
		}

		protected.GET("/commands/suggest", consoleHandler.SuggestCommands)

		protected.GET("/settings", settingsHandler.GetSettings)
		protected.PUT("/settings", settingsHandler.UpdateSettings)
		protected.POST("/webhook/test", settingsHandler.TestWebhook)

		// Browsers cannot set headers on upgrade, so Auth also accepts ?token=
		protected.GET("/ws/console", consoleHandler.HandleConsoleWebSocket)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":            "ok",
			"websocket_clients": deps.Hub.ClientCount(),
			"console_viewers":   deps.Hub.GetRoomSize(websocket.RoomConsole),
		})
	})

	if cfg.Metrics.Prometheus && deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(deps.Registry)))
	}

	shutdown := func() {
		log.Println("Waiting for in-flight server operations to complete...")
		serverHandler.WaitForCompletion()
		log.Println("Server operations completed")
	}

	return router, shutdown
}
