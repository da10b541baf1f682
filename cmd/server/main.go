package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/database/migrations"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fatal("failed to load config", err)
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		fatal("database is unreachable", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		fatal("failed to run migrations", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	defer rdb.Close()
	rs := redsync.New(goredis.NewPool(rdb))

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()
	inspector := asynq.NewInspector(redisConn)
	defer inspector.Close()

	ctx := context.Background()

	store, err := service.NewR2Store(ctx, cfg.R2)
	if err != nil {
		fatal("failed to create object store", err)
	}

	var annotator service.ImageAnnotator
	if cfg.VisionAPIKey != "" {
		annotator, err = service.NewVisionAnnotator(ctx, cfg.VisionAPIKey)
		if err != nil {
			fatal("failed to create vision client", err)
		}
	}

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	historyRepo := repository.NewPostingHistoryRepository(db)
	apiKeyRepo := repository.NewApiKeyRepository(db)

	clientOpts := service.ClientOptionsFromConfig(cfg.Publishing)
	providers := service.NewOAuthProviders(*cfg, clientOpts)
	pinterestAdapter := service.NewPinterestAdapter(clientOpts)
	adapters := service.NewAdapters(
		service.NewFacebookAdapter(clientOpts),
		service.NewInstagramAdapter(clientOpts),
		service.NewXAdapter(clientOpts),
		pinterestAdapter,
	)

	publishQueue := queue.NewQueue(client, inspector)

	authService := service.NewAuthService(*cfg, userRepo)
	userService := service.NewUserService(userRepo)
	apiKeyService := service.NewApiKeyService(apiKeyRepo)
	tokenService := service.NewTokenService(*cfg, socialAccountRepo, providers, rs)
	platformService := service.NewPlatformService(*cfg, socialAccountRepo, providers)
	mediaService := service.NewMediaService(store, mediaAssetRepo, cfg.MaxUploadBytes)
	keywordService := service.NewKeywordService(annotator)
	pinterestService := service.NewPinterestService(pinterestAdapter, socialAccountRepo, tokenService)
	postService := service.NewPostService(*cfg, postRepo, postMediaRepo, mediaAssetRepo, socialAccountRepo, historyRepo,
		adapters, mediaService, tokenService, keywordService, publishQueue)

	app := fiber.New(fiber.Config{
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		BodyLimit:    int(cfg.MaxUploadBytes) + 1024*1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			slog.Error(err.Error(), "path", c.Path())
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "database unavailable"})
		}
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authMiddleware := middleware.NewAuthMiddleware(*cfg, apiKeyService)

	auth := handlers.NewAuthHandler(*cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallbackHandler)
	app.Post("/logout", auth.Logout)

	platform := handlers.NewPlatformHandler(platformService, *cfg)
	app.Get("/auth/:platform/callback", platform.CallbackHandler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	user := handlers.NewUserHandler(userService)
	api.Get("/user", user.GetUserInfo)
	api.Delete("/user", user.DeleteUser)

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/api_keys", apiKeys.CreateApiKey)
	api.Get("/api_keys", apiKeys.ListKeys)
	api.Delete("/api_keys/:id", apiKeys.RemoveAPIKey)

	api.Get("/accounts", platform.ListAccounts)
	api.Get("/accounts/connect/:platform", platform.AddSocialAccount)
	api.Delete("/accounts/:id", platform.RemoveAccount)

	media := handlers.NewMediaHandler(mediaService, keywordService)
	api.Post("/media", media.Upload)
	api.Get("/media/:id", media.Get)
	api.Post("/media/:id/keywords", media.Keywords)

	pinterest := handlers.NewPinterestHandler(pinterestService)
	api.Get("/pinterest/boards", pinterest.ListBoards)
	api.Post("/pinterest/boards", pinterest.CreateBoard)

	post := handlers.NewPostHandler(postService)
	api.Post("/posts", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/:id", post.GetPost)
	api.Post("/posts/:id/publish", post.PublishDraft)
	api.Delete("/posts/:id", post.CancelPost)

	// background jobs
	sweep := job.NewPostSchedulerJob(postRepo, publishQueue, cfg.Scheduler.BatchSize, cfg.Scheduler.StaleAfter)
	refresh := job.NewTokenRefreshJob(tokenService, cfg.TokenRefreshInterval)
	scheduler, err := job.NewScheduler(sweep, cfg.Scheduler.Interval, refresh, cfg.TokenRefreshInterval)
	if err != nil {
		fatal("failed to create scheduler", err)
	}
	scheduler.Start()

	worker := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: cfg.Scheduler.WorkerConcurrency,
		Queues:      map[string]int{queue.QueueName: 1},
	})
	mux := asynq.NewServeMux()
	queue.NewWorker(postService).Register(mux)
	if err := worker.Start(mux); err != nil {
		fatal("could not start asynq server", err)
	}

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			fatal("failed to start server", err)
		}
	}()
	slog.Info("server is running", "port", cfg.Port)

	gracefulShutdown(app, scheduler, worker)
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
		return
	}
	slog.Info("database connection closed")
}

func gracefulShutdown(app *fiber.App, scheduler *job.Scheduler, worker *asynq.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	slog.Info("shutting down server")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	scheduler.Stop()
	worker.Shutdown()

	slog.Info("server shutdown complete")
}
