package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/api"
	"whatsapp-inbox/internal/automation"
	"whatsapp-inbox/internal/config"
	"whatsapp-inbox/internal/database"
	"whatsapp-inbox/internal/inbound"
	"whatsapp-inbox/internal/jobs"
	"whatsapp-inbox/internal/logging"
	"whatsapp-inbox/internal/media"
	"whatsapp-inbox/internal/metasync"
	"whatsapp-inbox/internal/repository"
	"whatsapp-inbox/internal/webhook"
	"whatsapp-inbox/internal/whatsapp"
	"whatsapp-inbox/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger, err := logging.Init(cfg)
	if err != nil {
		log.Fatalf("Failed to initialise logging: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	repo := repository.New(db)

	store, err := media.NewBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	whatsappClient := whatsapp.NewClient(cfg)
	hub := ws.NewHub()
	go hub.Run(ctx)

	automationEngine := automation.NewEngine(repo, whatsappClient)
	processor := inbound.NewProcessor(repo, whatsappClient, media.NewFetcher(whatsappClient, store), hub, automationEngine)
	reconciler := metasync.NewReconciler(repo, whatsappClient, cfg.WhatsAppBusinessAccountID)

	scheduler, err := jobs.NewScheduler(cfg.SyncSchedule, reconciler, cfg.HTTPTimeout*10)
	if err != nil {
		return err
	}
	scheduler.Start()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger(), cors())

	webhookHandler := webhook.NewHandler(cfg, processor)
	templateHandler := api.NewTemplateHandler(reconciler)
	dashboardHandler := api.NewDashboardHandler(repo)
	contactHandler := api.NewContactHandler(repo)
	automationHandler := api.NewAutomationHandler(repo)

	// Webhook Routes
	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleMessage)
	r.GET("/ws", hub.ServeWs)

	if local, ok := store.(*media.LocalStore); ok && strings.HasPrefix(cfg.MediaBaseURL, "/") {
		r.Static(cfg.MediaBaseURL, local.Root())
	}

	apiGroup := r.Group("/api")
	{
		// Provider sync
		apiGroup.POST("/meta/sync", templateHandler.Sync)
		apiGroup.GET("/meta/compare", templateHandler.Compare)

		// Template Routes
		apiGroup.GET("/templates", templateHandler.List)
		apiGroup.POST("/templates", templateHandler.Create)
		apiGroup.DELETE("/templates/:id", templateHandler.Delete)
		apiGroup.POST("/templates/:id/refresh", templateHandler.Refresh)

		// Inbox Routes
		apiGroup.GET("/messages", dashboardHandler.GetMessages)
		apiGroup.GET("/dead-letters", dashboardHandler.GetDeadLetters)

		// CRM Routes
		apiGroup.GET("/contacts", contactHandler.GetContacts)
		apiGroup.PUT("/contacts/:id", contactHandler.UpdateContact)
		apiGroup.GET("/contacts/export", contactHandler.ExportContacts)

		// Automation Routes
		apiGroup.GET("/automation/rules", automationHandler.GetRules)
		apiGroup.POST("/automation/rules", automationHandler.CreateRule)
		apiGroup.PUT("/automation/rules/:id", automationHandler.UpdateRule)
		apiGroup.DELETE("/automation/rules/:id", automationHandler.DeleteRule)
		apiGroup.POST("/automation/rules/:id/toggle", automationHandler.ToggleRule)
		apiGroup.GET("/automation/logs", automationHandler.GetLogs)
		apiGroup.GET("/automation/analytics", automationHandler.GetAnalytics)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("Server starting", zap.String("port", cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	return nil
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Hub-Signature-256")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
