package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/config"
	"github.com/vedran77/lattice/internal/database"
	"github.com/vedran77/lattice/internal/dispatch"
	"github.com/vedran77/lattice/internal/federation"
	"github.com/vedran77/lattice/internal/handler"
	"github.com/vedran77/lattice/internal/reconcile"
	"github.com/vedran77/lattice/internal/storage/postgres"
	"github.com/vedran77/lattice/internal/transport/http/handlers"
	"github.com/vedran77/lattice/internal/transport/http/middleware"
	"github.com/vedran77/lattice/internal/transport/ws"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	// Database
	pool, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	ctx := context.Background()
	if err := database.Init(ctx, pool); err != nil {
		logger.Fatal("schema init failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Storage
	profiles := postgres.NewProfileRepo(pool)
	posts := postgres.NewPostRepo(pool)

	// Core wiring
	rec := reconcile.New(profiles, posts, logger)
	d := dispatch.New(logger)
	fed := federation.New(cfg.PublicAddr, d, rec, logger)
	hub := ws.NewHub(logger)
	tokens := handler.NewIssuer(cfg.JWTSecret, cfg.ResumeTTL)
	h := handler.New(profiles, posts, rec, fed, hub, tokens, logger)
	fed.SetRouter(h)

	// Federation: dial the seeds, then keep quiet profiles fresh
	go fed.Bootstrap(ctx, cfg.SeedServers)
	go fed.RunUpdatePoller(ctx, cfg.PollInterval, profiles.All)

	// Read-only HTTP gateway
	gateway := handlers.NewGatewayHandler(profiles, posts, hub.Online, logger)
	auth := middleware.Auth(tokens)

	// Routes
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", gateway.Health)
	mux.HandleFunc("GET /api/v1/profiles/{username}", gateway.GetProfile)
	mux.HandleFunc("GET /api/v1/users/{id}/posts", gateway.GetPosts)
	mux.Handle("GET /api/v1/me", auth(http.HandlerFunc(gateway.Me)))

	// Devices and federated servers share this endpoint
	mux.Handle("/ws", ws.ServeWS(hub, h, d, tokens, nil, logger))

	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	logger.Info("starting server", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, middleware.CORS(mux)); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
