package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sceneflow/internal/adapters/cache"
	"sceneflow/internal/adapters/db/repository"
	"sceneflow/internal/adapters/inventory"
	"sceneflow/internal/adapters/microservices/api"
	"sceneflow/internal/adapters/microservices/production"
	"sceneflow/internal/adapters/onlinecache"
	"sceneflow/internal/adapters/rabbitmq"
	"sceneflow/internal/core/services"
	"sceneflow/internal/metrics"
	"sceneflow/pkg/config"
	"sceneflow/pkg/logger"
)

// buildProduction wires every adapter behind the orchestrator. Both modes
// share the same wiring; they differ only in how the orchestrator is
// driven.
func buildProduction(cfg config.Config, repo *repository.Repository, logger *logger.Logger) (*production.Production, error) {
	noticeRabbit, err := rabbitmq.NewNoticeRabbit(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to rabbitmq: %w", err)
	}
	logger.Info("", "rabbitmq_connected", "Connected to RabbitMQ exchange notices_topic",
		map[string]interface{}{"duration_ms": noticeRabbit.DurationMs})

	memcache := cache.NewMemory()
	inv := inventory.NewClient(cfg, memcache, logger)
	online := onlinecache.NewClient(cfg, logger)
	resolver := services.NewResolver(services.DefaultRules())

	return production.NewProduction(repo, inv, memcache, noticeRabbit, online, resolver, cfg, logger), nil
}

// API serves the production endpoints plus metrics until the context is
// cancelled.
func API(ctx context.Context, logger *logger.Logger, repo *repository.Repository, cfg config.Config, flags services.Flags, stop context.CancelFunc) {
	metrics.Register()

	prod, err := buildProduction(cfg, repo, logger)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	port := cfg.API.Port
	if flags.Port != 0 {
		port = flags.Port
	}
	apiService := api.NewAPIHandler(prod, repo, port, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /production/handle-orders", apiService.HandleOrders)
	mux.HandleFunc("GET /production/products", apiService.GetProducts)
	mux.HandleFunc("POST /production/products/update", apiService.UpdateProduct)
	mux.HandleFunc("POST /production/products/queue", apiService.QueueProducts)
	mux.HandleFunc("POST /production/reset-status", apiService.ResetProcessingStatus)
	mux.HandleFunc("GET /orders/{order_id}", apiService.GetOrderDetails)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		logger.Info("", "service_started", "API service started on port"+server.Addr,
			map[string]interface{}{"details": map[string]interface{}{"port": port}})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stop()
			fmt.Printf("cannot start server: %v\n", err)
			os.Exit(1)
		}
	}()

	apiService.Stop(ctx, &server)
}

// ProductionRunner executes one pass of the lifecycle orchestrator and
// exits. Meant to run under cron.
func ProductionRunner(ctx context.Context, logger *logger.Logger, repo *repository.Repository, cfg config.Config, flags services.Flags) {
	prod, err := buildProduction(cfg, repo, logger)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	handled, err := prod.HandleOrders(ctx, flags.Submitter)
	if err != nil {
		logger.Error("", "pass_failed", "Production pass failed", err, nil)
		repo.Conn.Close()
		os.Exit(1)
	}
	logger.Info("", "pass_finished", "Production pass finished", map[string]interface{}{"handled": handled})
	repo.Conn.Close()
}
