// Package main runs the live Q&A HTTP server with the /events WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/liveqa/backend/config"
	"github.com/liveqa/backend/internal/attendance"
	"github.com/liveqa/backend/internal/auth"
	"github.com/liveqa/backend/internal/middleware"
	"github.com/liveqa/backend/internal/models"
	"github.com/liveqa/backend/internal/questions"
	"github.com/liveqa/backend/internal/realtime"
	"github.com/liveqa/backend/internal/rooms"
	"github.com/liveqa/backend/internal/votes"
	"github.com/liveqa/backend/pkg/database"
	"github.com/liveqa/backend/pkg/queue"
	"github.com/liveqa/backend/pkg/redis"
	"github.com/liveqa/backend/pkg/response"
	"github.com/liveqa/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var archives rooms.ArchiveLinker
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			archives = s3Client
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Repositories
	userRepo := auth.NewRepository(pool)
	roomRepo := rooms.NewRepository(pool)
	questionRepo := questions.NewRepository(pool)
	voteRepo := votes.NewRepository(pool)
	attendanceRepo := attendance.NewRepository(pool)

	// Session coordinator
	hub := realtime.NewHub(logger)
	coord := realtime.NewCoordinator(realtime.Stores{
		Users:     userRepo,
		Rooms:     roomRepo,
		Questions: questionRepo,
		Votes:     voteRepo,
	}, hub, logger)
	coord.SetAttendanceRecorder(attendanceRepo)
	coord.SetSessionEndedHandler(func(room *models.Room, endedBy int64, endedAt time.Time) {
		enqueueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := jobQueue.EnqueueSessionArchive(enqueueCtx, queue.SessionArchivePayload{
			RoomID:   room.ID,
			RoomCode: room.Code,
			EndedBy:  endedBy,
			EndedAt:  endedAt,
		})
		if err != nil {
			logger.Error("enqueue session archive", zap.Error(err), zap.String("room_code", room.Code))
		}
	})

	coordCtx, coordCancel := context.WithCancel(context.Background())
	defer coordCancel()
	go coord.Run(coordCtx)

	// Handlers
	authHandler := auth.NewHandler(userRepo, jwtService, logger)
	roomHandler := rooms.NewHandler(roomRepo, coord, archives, logger)
	questionHandler := questions.NewHandler(roomRepo, questionRepo, coord, logger)
	attendanceHandler := attendance.NewHandler(roomRepo, attendanceRepo, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)

		// Rooms
		api.POST("/rooms", roomHandler.Create)
		api.GET("/rooms", roomHandler.List)
		api.GET("/rooms/:code", roomHandler.Get)
		api.PATCH("/rooms/:code", roomHandler.Update)
		api.GET("/rooms/:code/participants", roomHandler.Participants)
		api.GET("/rooms/:code/archive", roomHandler.Archive)
		api.GET("/rooms/:code/questions", questionHandler.ListByRoom)
		api.DELETE("/rooms/:code/questions/:id", questionHandler.Remove)
		api.GET("/rooms/:code/attendees", attendanceHandler.GetAttendees)
	}

	// WebSocket (token in query or Authorization header)
	router.GET("/events", realtime.ServeWs(coord, jwtService, realtime.TransportConfig{
		SendBuffer:   cfg.Realtime.SendBuffer,
		ReadLimit:    cfg.Realtime.ReadLimit,
		PingInterval: cfg.Realtime.PingInterval,
		PongWait:     cfg.Realtime.PongWait,
		WriteWait:    cfg.Realtime.WriteWait,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(cfg.Server.CORSAllowedOrigins, origin)
		},
	}, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	coordCancel()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
