package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/api/channels/evolution"
	"github.com/Conversly/whatsapp-gateway/internal/clients/aiagent"
	evoclient "github.com/Conversly/whatsapp-gateway/internal/clients/evolution"
	"github.com/Conversly/whatsapp-gateway/internal/controllers"
	"github.com/Conversly/whatsapp-gateway/internal/core"
	"github.com/Conversly/whatsapp-gateway/internal/debounce"
	"github.com/Conversly/whatsapp-gateway/internal/directory"
	"github.com/Conversly/whatsapp-gateway/internal/dispatch"
	"github.com/Conversly/whatsapp-gateway/internal/loaders"
	"github.com/Conversly/whatsapp-gateway/internal/routes"
	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

func runServer() error {
	cfg, cleanup, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return err
	}
	defer cleanup()

	utils.Zlog.Info("Starting application",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.ServerPort),
		zap.Duration("quiet_period", cfg.QuietPeriod))

	if cfg.RunMigrations {
		if err := loaders.MigrateUp(cfg.DatabaseURL); err != nil {
			utils.Zlog.Error("Failed to run migrations", zap.Error(err))
			return err
		}
	}

	db, err := loaders.NewPostgresClient(cfg.DatabaseURL, cfg.WorkerCount, cfg.BatchSize)
	if err != nil {
		utils.Zlog.Error("Failed to create database client", zap.Error(err))
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			utils.Zlog.Error("Error closing database connection", zap.Error(err))
		}
	}()

	rc, err := loaders.NewRedisClient(loaders.RedisOptions{
		URL:       cfg.RedisURL,
		Host:      cfg.RedisHost,
		Port:      cfg.RedisPort,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		BufferTTL: cfg.BufferTTL,
	})
	if err != nil {
		utils.Zlog.Error("Failed to connect to Redis", zap.Error(err))
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			utils.Zlog.Error("Error closing Redis connection", zap.Error(err))
		}
	}()

	coord := debounce.New(rc, debounce.Options{
		QuietPeriod: cfg.QuietPeriod,
		Logger:      utils.Zlog.Named("debounce"),
	})

	catalog := directory.NewAgentCatalog(db)
	catalog.StartAutoRefresh(context.Background(), cfg.AgentRefresh)
	defer catalog.StopAutoRefresh()

	ai := aiagent.NewClient(cfg.PythonAIURL)
	sender := evoclient.NewClient(evoclient.Config{
		BaseURL:  cfg.EvolutionBaseURL,
		APIKey:   cfg.EvolutionAPIKey,
		Instance: cfg.EvolutionInstance,
	})
	dispatcher := dispatch.New(directory.NewService(db), ai, sender, dispatch.Options{
		SendReplies: cfg.SendReplies,
		Messages:    db,
	})

	webhook := evolution.NewController(
		evolution.NewService(coord, dispatcher, cfg.BufferKeySuffix),
		cfg.EvolutionAPIKey,
		controllers.Version,
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	routes.SetupRoutes(router, routes.Deps{
		Config:      cfg,
		DB:          db,
		Redis:       rc,
		Coordinator: coord,
		Agents:      catalog,
		Webhook:     webhook,
		Optional: map[string]controllers.Pinger{
			"ai_backend": controllers.PingFunc(ai.CheckHealth),
			"evolution":  controllers.PingFunc(sender.HealthCheck),
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		utils.Zlog.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		utils.Zlog.Error("Failed to start server", zap.Error(err))
		return err
	}

	utils.Zlog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		utils.Zlog.Error("Server forced to shutdown", zap.Error(err))
	}
	// Pending buffers are drained now rather than after their quiet period.
	if err := coord.Shutdown(ctx); err != nil {
		utils.Zlog.Error("Aggregation coordinator did not drain in time", zap.Error(err))
	}
	if err := webhook.Wait(ctx); err != nil {
		utils.Zlog.Error("Background webhook processing did not finish", zap.Error(err))
	}
	core.StopMessageSaver()

	utils.Zlog.Info("Server exited")
	return nil
}
