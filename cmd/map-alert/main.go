package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mapalert/go-map-alert/internal/api"
	"github.com/mapalert/go-map-alert/internal/apiclient"
	"github.com/mapalert/go-map-alert/internal/config"
	"github.com/mapalert/go-map-alert/internal/geocode"
	"github.com/mapalert/go-map-alert/internal/logging"
	"github.com/mapalert/go-map-alert/internal/markers"
	"github.com/mapalert/go-map-alert/internal/notify"
	"github.com/mapalert/go-map-alert/internal/session"
	"github.com/mapalert/go-map-alert/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := store.NewSQLiteStore(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := apiclient.New(cfg.Upstream.Timeout)
	sess := session.New(client, db)

	// Resume a remembered login, if one survived the last run
	if restored, err := sess.Restore(ctx); err != nil {
		slog.Warn("could not restore previous session", "error", err)
	} else if restored {
		slog.Info("previous session restored")
	}

	// Broadcaster for SSE event streaming
	broadcaster := notify.NewBroadcaster()

	refresher := markers.NewRefresher(client, sess, broadcaster, cfg.Markers.RefreshInterval)
	refresher.Start(ctx)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS))

	handler := api.NewHandler(sess, refresher, db, geocode.NewStatic(), broadcaster)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	refresher.Stop()
	broadcaster.Close() // Close all event streams gracefully

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
