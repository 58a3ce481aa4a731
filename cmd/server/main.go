package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudnest/backend/internal/blobstore"
	"github.com/cloudnest/backend/internal/config"
	"github.com/cloudnest/backend/internal/database"
	"github.com/cloudnest/backend/internal/handlers"
	"github.com/cloudnest/backend/internal/middleware"
	"github.com/cloudnest/backend/internal/services"
	"github.com/cloudnest/backend/pkg/logger"
	"github.com/cloudnest/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	objectClient, err := blobstore.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := objectClient.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio bucket: %v", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	blobStore := blobstore.New(db, objectClient, cfg.Blob)
	blobStore.StartSweeper(bgCtx)

	releaseQueue := services.NewReleaseQueue(blobStore, cfg.Blob.ReleaseQueueSize, cfg.Blob.ReleaseMaxAttempts)
	releaseQueue.Start(bgCtx)

	accessService := services.NewAccessService(db, cfg.Tree.MaxDepth)
	namespaceService := services.NewNamespaceService(db, blobStore, accessService, releaseQueue, cfg.Tree.MaxDepth)

	authHandler := handlers.NewAuthHandler(db)
	ssoHandler := handlers.NewSSOHandler(db, cfg)
	filesHandler := handlers.NewFilesHandler(namespaceService)
	foldersHandler := handlers.NewFoldersHandler(namespaceService)
	nodesHandler := handlers.NewNodesHandler(namespaceService)
	sharesHandler := handlers.NewSharesHandler(namespaceService)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: cfg.Server.BodyLimitMB * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Get("/sso/providers", ssoHandler.ListProviders)
	authRoutes.Get("/sso/oauth/:provider", ssoHandler.GetLoginRedirect)
	authRoutes.Get("/sso/oauth/:provider/callback", ssoHandler.HandleOAuthCallback)

	folderRoutes := api.Group("/folders", authMiddleware.RequireAuth)
	folderRoutes.Post("/", foldersHandler.Create)
	folderRoutes.Get("/:id/children", foldersHandler.ListChildren)
	folderRoutes.Post("/:id/share", sharesHandler.ShareFolder)
	folderRoutes.Get("/:id/shares", sharesHandler.ListFolderShares)
	folderRoutes.Delete("/:id/share/:email", sharesHandler.UnshareFolder)

	fileRoutes := api.Group("/files", authMiddleware.RequireAuth)
	fileRoutes.Post("/upload", filesHandler.Upload)
	fileRoutes.Get("/", filesHandler.ListRoot)
	fileRoutes.Get("/:id/download", filesHandler.Download)
	fileRoutes.Get("/:id", filesHandler.Get)

	nodeRoutes := api.Group("/nodes", authMiddleware.RequireAuth)
	nodeRoutes.Patch("/:id", nodesHandler.Update)
	nodeRoutes.Get("/:id/path", nodesHandler.Path)
	nodeRoutes.Delete("/:id/permanent", nodesHandler.PermanentDelete)
	nodeRoutes.Delete("/:id", nodesHandler.Delete)
	nodeRoutes.Post("/:id/restore", nodesHandler.Restore)

	api.Get("/shared", authMiddleware.RequireAuth, sharesHandler.ListSharedWithMe)
	api.Get("/search", authMiddleware.RequireAuth, filesHandler.Search)
	api.Get("/trash", authMiddleware.RequireAuth, filesHandler.ListTrash)

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
		bgCancel()
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
