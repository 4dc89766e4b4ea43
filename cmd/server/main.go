package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"

	"github.com/notebase/docsync/internal/broadcast"
	"github.com/notebase/docsync/internal/config"
	"github.com/notebase/docsync/internal/coordinator"
	"github.com/notebase/docsync/internal/database"
	"github.com/notebase/docsync/internal/handlers"
	"github.com/notebase/docsync/internal/logging"
	"github.com/notebase/docsync/internal/middleware"
	"github.com/notebase/docsync/internal/services"
	"github.com/notebase/docsync/internal/types"

	_ "github.com/notebase/docsync/docs/api" // Swagger docs
)

// @title Docsync API
// @version 1.0.0
// @description Collaborative document sync service with per-user app instances
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/notebase/docsync

// @license.name AGPL-3.0
// @license.url https://www.gnu.org/licenses/agpl-3.0.html

// @host localhost:3000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name cookie_session

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Setup(cfg.LogLevel)

	// Connect to database (service pool)
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	// Run auto-migrations with the admin pool
	adminDB, err := database.ConnectAdmin(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to admin database: %v", err)
	}
	if err := database.AutoMigrate(adminDB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	database.Close(adminDB)

	// Realtime hub and update coordinator
	hub := broadcast.NewHub()
	coord := coordinator.New(hub,
		coordinator.WithLockTimeout(cfg.LockTimeout),
		coordinator.WithLocker(coordinator.NewLeaseLocker(db, cfg.LockTTL)),
	)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: false,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())

	// Prometheus metrics
	prometheus := fiberprometheus.New("docsync")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// API routes under /api
	api := app.Group("/api")

	// Version middleware
	api.Use(middleware.VersionMiddleware())

	// Create handlers
	documentHandler := &handlers.DocumentHandler{DB: db, Coord: coord}
	appHandler := &handlers.AppHandler{DB: db, Coord: coord}
	tutorialHandler := &handlers.TutorialHandler{DB: db}

	// Canonical document routes (authors)
	documents := api.Group("/documents")
	documents.Post("/", middleware.AuthUser(), documentHandler.CreateDocument)
	documents.Get("/:document", middleware.AuthUser(), documentHandler.GetDocument)
	documents.Post("/:document/updates", middleware.AuthUser(), documentHandler.ApplyDocumentUpdates)
	documents.Post("/:document/duplicate", middleware.AuthUser(), documentHandler.DuplicateDocument)
	documents.Post("/:document/restore", middleware.AuthAdmin(), documentHandler.RestoreDocument)
	documents.Post("/:document/app", middleware.AuthAdmin(), appHandler.PublishApp)

	// Published app routes (per-user instances)
	appsGroup := api.Group("/apps")
	appsGroup.Post("/:document/users/:user", middleware.AuthAdmin(), appHandler.GrantAppInstance)
	appsGroup.Get("/:document/users/:user", middleware.AuthUser(), appHandler.GetAppInstance)
	appsGroup.Post("/:document/users/:user/updates", middleware.AuthUser(), appHandler.ApplyAppInstanceUpdates)
	appsGroup.Delete("/:document/users/:user", middleware.AuthAdmin(), appHandler.RevokeAppInstance)
	appsGroup.Post("/:document/propagate", middleware.AuthAdmin(), appHandler.PropagateAppState)

	// Onboarding tutorial routes
	workspaces := api.Group("/workspaces")
	workspaces.Get("/:workspace/tutorial", middleware.AuthUser(), tutorialHandler.GetTutorial)
	workspaces.Post("/:workspace/tutorial", middleware.AuthUser(), tutorialHandler.CreateTutorial)
	workspaces.Post("/:workspace/tutorial/advance", middleware.AuthUser(), tutorialHandler.AdvanceTutorial)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":    fiber.StatusNotFound,
			"message":   "[404] Resource Not Found",
			"ok":        false,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"url":       c.OriginalURL(),
		})
	})

	// Initialize Authorizer for the auth middleware
	if err := services.InitAuthorizer(cfg, "http", "localhost:"+cfg.Port); err != nil {
		log.Printf("Authorizer init deferred: %v", err)
	}

	// Realtime update feed on its own listener
	realtime := &http.Server{
		Addr:    ":" + cfg.RealtimePort,
		Handler: hub.Handler(),
	}
	go func() {
		log.Printf("Starting realtime feed on port %s", cfg.RealtimePort)
		if err := realtime.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start realtime feed: %v", err)
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Gracefully shutting down...")
		_ = realtime.Close()
		_ = app.Shutdown()
	}()

	// Start server
	port := cfg.Port
	log.Printf("Starting server on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server stopped")
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()
	errorType := "unknown"

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Middleware errors carry their own status and type
	var ce *types.CustomError
	if errors.As(err, &ce) {
		code = ce.Code
		message = ce.Message
		errorType = ce.Type
	}

	// Check for version errors
	versionError := false
	if code == fiber.StatusConflict || (message != "" && len(message) >= 9 && message[:9] == "E_VERSION") {
		versionError = true
		errorType = "version"
		code = fiber.StatusConflict
	}

	return c.Status(code).JSON(fiber.Map{
		"status":       code,
		"message":      message,
		"ok":           false,
		"versionError": versionError,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"url":          c.OriginalURL(),
		"type":         errorType,
	})
}
