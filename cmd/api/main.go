package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Devansh1910/mymedicos-mentor/internal/config"
	"github.com/Devansh1910/mymedicos-mentor/internal/database"
	"github.com/Devansh1910/mymedicos-mentor/internal/handler"
	"github.com/Devansh1910/mymedicos-mentor/internal/middleware"
	"github.com/Devansh1910/mymedicos-mentor/internal/models"
	"github.com/Devansh1910/mymedicos-mentor/internal/repository"
	"github.com/Devansh1910/mymedicos-mentor/internal/router"
	"github.com/Devansh1910/mymedicos-mentor/internal/service"
	cloud "github.com/Devansh1910/mymedicos-mentor/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.DoubtRequest{},
		&models.DoubtThread{},
		&models.DoubtMessage{},
		&models.MentorProfile{},
		&models.MentorReview{},
		&models.Notification{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	var uploader service.FileStorage
	if cfg.CloudinaryCloudName != "" {
		cloudService, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		uploader = cloudService
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	doubtRepo := repository.NewDoubtRepository(db)
	mentorRepo := repository.NewMentorRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	notificationService := service.NewNotificationService(notificationRepo, redisClient, cfg.EventChannelBase, natsConn, validate, logger)
	boardService := service.NewBoardService(doubtRepo, redisClient, cfg.EventChannelBase, natsConn, logger)
	streamRelay := service.NewDoubtStreamRelay(redisClient, cfg.EventChannelBase, natsConn, logger)
	doubtService := service.NewDoubtService(doubtRepo, mentorRepo, boardService, notificationService, streamRelay, validate, cfg.DefaultMentorID, logger)
	streamRelay.SetDoubtService(doubtService)
	mentorService := service.NewMentorService(mentorRepo, doubtRepo, uploader, redisClient, cfg.StatsCacheTTL, cfg.MaxAvatarMB, validate, logger)

	serviceCtx, stopServices := context.WithCancel(context.Background())
	defer stopServices()
	notificationService.Start(serviceCtx)
	boardService.Start(serviceCtx)
	streamRelay.Start(serviceCtx)

	doubtHandler := handler.NewDoubtHandler(doubtService, boardService, streamRelay, logger, cfg.StreamKeepAlive)
	mentorHandler := handler.NewMentorHandler(mentorService, logger)
	notificationHandler := handler.NewNotificationHandler(notificationService, logger, cfg.StreamKeepAlive)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		DoubtHandler:        doubtHandler,
		MentorHandler:       mentorHandler,
		NotificationHandler: notificationHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, stopServices)
}

func waitForShutdown(app *fiber.App, stopServices context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopServices()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
