package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/skydrive/backend/internal/config"
	"github.com/skydrive/backend/internal/database"
	"github.com/skydrive/backend/internal/handlers"
	"github.com/skydrive/backend/internal/mailer"
	"github.com/skydrive/backend/internal/middleware"
	"github.com/skydrive/backend/internal/services"
	"github.com/skydrive/backend/internal/storage"
	"github.com/skydrive/backend/pkg/logger"
	"github.com/skydrive/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	blobStore, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := blobStore.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio bucket: %v", err)
	}

	smtpMailer, err := mailer.NewSMTPMailer(cfg.SMTP, cfg.Server.FrontendURL)
	if err != nil {
		log.Fatalf("mailer initialization failed: %v", err)
	}

	accountService := services.NewAccountService(db, smtpMailer)
	hierarchyService := services.NewHierarchyService(db, blobStore)
	hierarchyService.BlobTimeout = cfg.MinIO.Timeout

	authHandler := handlers.NewAuthHandler(accountService)
	filesHandler := handlers.NewFilesHandler(hierarchyService)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/verify-email", authHandler.VerifyEmail)
	authRoutes.Post("/forgot-password", authHandler.ForgotPassword)
	authRoutes.Post("/reset-password", authHandler.ResetPassword)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	fileRoutes := api.Group("/files", authMiddleware.RequireAuth)
	fileRoutes.Post("/upload", filesHandler.Upload)
	fileRoutes.Post("/create-folder", filesHandler.CreateFolder)
	fileRoutes.Get("/search", filesHandler.Search)
	fileRoutes.Get("/path/:folderId", filesHandler.Path)
	fileRoutes.Get("/path", filesHandler.Path)
	fileRoutes.Get("/download/:fileId", filesHandler.DownloadLink)
	fileRoutes.Get("/", filesHandler.List)
	fileRoutes.Put("/:fileId", filesHandler.Update)
	fileRoutes.Delete("/:fileId", filesHandler.Delete)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
