package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-chat-hub/internal/chat"
	"go-chat-hub/internal/config"
	"go-chat-hub/internal/db"
	myMiddleware "go-chat-hub/internal/middleware"
	"go-chat-hub/internal/ratelimit"
	"go-chat-hub/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", "", "http service address (overrides ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger := newLogger(cfg)

	// 2. Database
	database, err := db.NewDatabase(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to connect to database")
	}
	defer database.Close()
	logger.Info().Str("driver", cfg.DBDriver).Msg("connected to database")

	if err := database.AutoMigrate(); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	// 3. Rate limiter: Redis when configured, in-process otherwise
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitBurst, cfg.RateLimitWindow)
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitBurst, cfg.RateLimitWindow)
		logger.Info().Msg("connected to redis")
	}

	// 4. Hub & features
	userRepo := user.NewRepository(database)
	chatRepo := chat.NewRepository(database)

	hub := chat.NewHub(userRepo, chatRepo, logger, chat.Options{
		IdleTimeout: cfg.IdleTimeout,
		Limiter:     limiter,
	})
	if err := hub.ResetPresence(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to reset presence")
	}

	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL, hub)
	userHandler := user.NewHandler(userService, logger)
	chatHandler := chat.NewHandler(hub, logger, chat.HandlerOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
	})

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(myMiddleware.Metrics)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(myMiddleware.Logger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Conn.PingContext(r.Context()); err != nil {
			myMiddleware.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		myMiddleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Post("/logout", userHandler.Logout)
		r.Get("/api/users", userHandler.ListUsers)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Get("/api/history/{peerID}", chatHandler.History)
		r.Get("/api/unread", chatHandler.Unread)
		r.Post("/api/mark_read/{peerID}", chatHandler.MarkRead)

		r.Route("/api/rooms", func(r chi.Router) {
			r.Post("/", chatHandler.CreateRoom)
			r.Get("/", chatHandler.ListRooms)
			r.Delete("/{roomID}", chatHandler.DeleteRoom)
			r.Get("/{roomID}/members", chatHandler.RoomMembers)
			r.Post("/{roomID}/members", chatHandler.AddMember)
			r.Delete("/{roomID}/members/{userID}", chatHandler.RemoveMember)
			r.Get("/{roomID}/messages", chatHandler.RoomMessages)
		})

		// WebSocket (Real-time)
		r.Get("/ws/status", chatHandler.ServeStatusWS)
		r.Get("/ws/global", chatHandler.ServeGlobalWS)
		r.Get("/ws/direct/{peerID}", chatHandler.ServeDirectWS)
		r.Get("/ws/rooms/{roomID}", chatHandler.ServeRoomWS)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 6. Serve until signalled
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn().Err(err).Msg("hub shutdown incomplete")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
