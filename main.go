package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civicreport/analysis"
	"civicreport/config"
	"civicreport/database"
	"civicreport/draft"
	"civicreport/handlers"
	"civicreport/issues"
	"civicreport/metrics"
	"civicreport/middleware"
	"civicreport/rabbitmq"
	"civicreport/votes"
	ws "civicreport/websocket"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	// Create database connection
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatal("Failed to create database connection:", err)
	}
	defer db.Close()

	// Ensure tables exist
	if err := db.EnsureIssuesTable(context.Background()); err != nil {
		log.Fatal("Failed to ensure issues table:", err)
	}
	if err := db.EnsureVotesTable(context.Background()); err != nil {
		log.Fatal("Failed to ensure issue_votes table:", err)
	}

	// Wire the intake workflow
	analyzer := analysis.NewClient(cfg)
	draftManager := draft.NewManager(analyzer, db, cfg.AnalyzingMinHold, cfg.DraftTTL)
	defer draftManager.Stop()

	voteService := votes.NewService(db)
	issueService := issues.NewService(db)

	// Initialize RabbitMQ publisher for issue events
	var publisher *rabbitmq.Publisher
	if p, err := rabbitmq.NewPublisher(cfg.GetAMQPURL(), cfg.RabbitMQExchange); err != nil {
		log.Printf("Warning: Failed to initialize RabbitMQ publisher: %v", err)
		log.Printf("Issue events via RabbitMQ will be unavailable. Continuing without RabbitMQ...")
	} else {
		publisher = p
		log.Printf("RabbitMQ publisher initialized: exchange=%s", cfg.RabbitMQExchange)
	}

	// Start the websocket hub
	hub := ws.NewHub()
	go hub.Run()

	metrics.Register()

	authClient := middleware.NewAuthClient(cfg.AuthServiceURL)
	h := handlers.NewHandlers(db, cfg, draftManager, voteService, issueService, publisher, hub)

	router := setupRouter(h, authClient)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Printf("Failed to close RabbitMQ publisher: %v", err)
		}
	}

	log.Println("Server exited")
}

func setupRouter(h *handlers.Handlers, authClient *middleware.AuthClient) *gin.Engine {
	router := gin.Default()

	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())

	api := router.Group("/api/v3")
	api.Use(middleware.SessionMiddleware(authClient))
	{
		// Draft workflow
		api.POST("/drafts", h.CreateDraft)
		api.GET("/drafts/:id", h.GetDraft)
		api.PUT("/drafts/:id/form", h.UpdateDraftForm)
		api.PUT("/drafts/:id/location", h.UpdateDraftLocation)
		api.POST("/drafts/:id/submit", h.SubmitDraft)
		api.DELETE("/drafts/:id", h.DiscardDraft)

		// Issue listing and voting
		api.GET("/issues", h.ListIssues)
		api.POST("/issues/refresh", h.RefreshIssues)
		api.GET("/issues/:seq", h.GetIssue)
		api.POST("/issues/:seq/vote", h.VoteIssue)
	}

	// Live updates
	router.GET("/ws", h.ServeWS)

	// Operational endpoints
	router.GET("/health", h.Health)
	router.GET("/version", h.Version)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
