package main

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/keypointlab/infantposebackend/config"
	"github.com/keypointlab/infantposebackend/database"
	"github.com/keypointlab/infantposebackend/export"
	"github.com/keypointlab/infantposebackend/handlers"
	"github.com/keypointlab/infantposebackend/media"
	"github.com/keypointlab/infantposebackend/permissions"
	"github.com/keypointlab/infantposebackend/realtime"
	"github.com/keypointlab/infantposebackend/repository"
	"github.com/keypointlab/infantposebackend/workers"
	"github.com/keypointlab/infantposebackend/workflow"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	storagePaths := []string{cfg.OriginalsPath, cfg.ThumbnailsPath, cfg.ExportsPath, filepath.Dir(cfg.DatabasePath)}
	for _, p := range storagePaths {
		if err := os.MkdirAll(p, 0755); err != nil {
			log.Fatalf("FATAL: Failed to create storage directory %s: %v", p, err)
		}
	}

	db, err := database.InitGormDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}
	if err := database.AutoMigrateModels(db); err != nil {
		log.Fatalf("FATAL: Failed to migrate database models: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("FATAL: Failed to access underlying sql.DB: %v", err)
	}

	mediaSubDirs := map[media.AssetType]string{
		media.AssetTypeOriginal:  filepath.Base(cfg.OriginalsPath),
		media.AssetTypeThumbnail: filepath.Base(cfg.ThumbnailsPath),
		media.AssetTypeExport:    filepath.Base(cfg.ExportsPath),
	}
	mediaStore, err := media.NewLocalStorage(cfg.MediaStoragePath, mediaSubDirs)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize media store: %v", err)
	}

	hub := realtime.NewHub()
	go hub.Run()

	engine := workflow.NewEngine(db, hub)

	userRepo := repository.NewGormUserRepository(db)
	batchRepo := repository.NewGormBatchRepository(db)
	assignmentRepo := repository.NewGormAssignmentRepository(db)

	estimator := media.NewDNNPoseDetector(cfg.PoseModelPath, cfg.PoseModelVersion, media.InfantPoseLabels)
	pool := workers.NewPreprocessPool(engine, estimator, cfg.PreprocessQueueSize, cfg.NumPreprocessWorkers)
	defer pool.Stop()

	// recover images left unprocessed by a previous run
	if unprocessed, err := batchRepo.ListUnprocessedImages(cfg.PreprocessQueueSize); err != nil {
		log.Printf("Warning: failed to list unprocessed images: %v", err)
	} else {
		for i := range unprocessed {
			fullPath, err := mediaStore.GetFullPath(unprocessed[i].StoragePath)
			if err != nil {
				log.Printf("Warning: cannot resolve stored image %d: %v", unprocessed[i].ID, err)
				continue
			}
			pool.Enqueue(unprocessed[i].ID, fullPath)
		}
	}

	exporter := export.NewExporter(engine, batchRepo, mediaStore)

	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	schemaHandler := handlers.NewSchemaHandler(engine)
	batchHandler := handlers.NewBatchHandler(engine, batchRepo, mediaStore, pool, exporter, cfg)
	assignmentHandler := handlers.NewAssignmentHandler(engine, assignmentRepo)
	annotationHandler := handlers.NewAnnotationHandler(engine)
	verificationHandler := handlers.NewVerificationHandler(engine)
	adminUserHandler := handlers.NewAdminUserHandler(userRepo)
	statsHandler := handlers.NewStatsHandler(sqlDB)

	jwtSecret := []byte(cfg.JWTSecret)
	authed := func(next http.HandlerFunc) http.Handler {
		return handlers.AuthMiddleware(userRepo, jwtSecret, next)
	}
	requires := func(action permissions.Action, next http.HandlerFunc) http.Handler {
		return handlers.AuthMiddleware(userRepo, jwtSecret, handlers.RequireAction(action, next))
	}

	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsHandler.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/register", authHandler.Register)
		r.Method(http.MethodGet, "/auth/me", authed(authHandler.Me))

		r.Route("/schemas", func(r chi.Router) {
			r.Method(http.MethodPost, "/", requires(permissions.ActionSchemaManage, schemaHandler.Create))
			r.Method(http.MethodGet, "/", authed(schemaHandler.List))
			r.Method(http.MethodGet, "/template", authed(schemaHandler.Template))
			r.Route("/{schemaID}", func(r chi.Router) {
				r.Method(http.MethodGet, "/", authed(schemaHandler.Get))
				r.Method(http.MethodDelete, "/", requires(permissions.ActionSchemaManage, schemaHandler.Deprecate))
			})
		})

		r.Route("/batches", func(r chi.Router) {
			r.Method(http.MethodPost, "/", requires(permissions.ActionBatchCreate, batchHandler.Create))
			r.Method(http.MethodGet, "/", authed(batchHandler.List))
			r.Route("/{batchID}", func(r chi.Router) {
				r.Method(http.MethodGet, "/", authed(batchHandler.Get))
				r.Method(http.MethodGet, "/images", authed(batchHandler.ListImages))
				r.Method(http.MethodPost, "/images", requires(permissions.ActionBatchCreate, batchHandler.Upload))
				r.Method(http.MethodPost, "/archive", requires(permissions.ActionBatchArchive, batchHandler.Archive))
				r.Method(http.MethodPost, "/export", requires(permissions.ActionBatchExport, batchHandler.Export))
				r.Method(http.MethodGet, "/assignments", requires(permissions.ActionAssignmentCreate, assignmentHandler.ListByBatch))
			})
		})

		r.Route("/assignments", func(r chi.Router) {
			r.Method(http.MethodPost, "/", requires(permissions.ActionAssignmentCreate, assignmentHandler.AssignBatch))
			r.Method(http.MethodPost, "/revisions", requires(permissions.ActionAssignmentCreate, assignmentHandler.AssignRevision))
			r.Method(http.MethodGet, "/mine", authed(assignmentHandler.ListMine))
			r.Route("/{assignmentID}", func(r chi.Router) {
				r.Method(http.MethodGet, "/", authed(assignmentHandler.Get))
				r.Method(http.MethodPost, "/acknowledge", authed(assignmentHandler.Acknowledge))
				r.Method(http.MethodPost, "/cancel", requires(permissions.ActionAssignmentCreate, assignmentHandler.Cancel))
				r.Method(http.MethodPost, "/progress", authed(assignmentHandler.RecomputeProgress))
			})
		})

		r.Route("/annotations", func(r chi.Router) {
			r.Method(http.MethodPost, "/", requires(permissions.ActionAnnotationSubmit, annotationHandler.Submit))
			r.Route("/{annotationID}", func(r chi.Router) {
				r.Method(http.MethodGet, "/", authed(annotationHandler.Get))
				r.Method(http.MethodPost, "/decision", requires(permissions.ActionVerificationWrite, verificationHandler.Decide))
				r.Method(http.MethodGet, "/verification", authed(verificationHandler.Get))
			})
		})

		r.Route("/images/{imageID}", func(r chi.Router) {
			r.Method(http.MethodGet, "/annotations", authed(annotationHandler.History))
			r.Method(http.MethodGet, "/annotations/latest", authed(annotationHandler.Latest))
			r.Method(http.MethodGet, "/keypoints", authed(verificationHandler.CanonicalKeypoints))
		})

		r.Route("/verifications", func(r chi.Router) {
			r.Method(http.MethodPost, "/next", requires(permissions.ActionVerificationWrite, verificationHandler.NextPending))
			r.Method(http.MethodGet, "/pending", authed(verificationHandler.PendingCount))
		})

		r.Route("/admin/users", func(r chi.Router) {
			r.Method(http.MethodGet, "/", requires(permissions.ActionUserManage, adminUserHandler.List))
			r.Route("/{userID}", func(r chi.Router) {
				r.Method(http.MethodGet, "/", requires(permissions.ActionUserManage, adminUserHandler.Get))
				r.Method(http.MethodPut, "/approval", requires(permissions.ActionUserManage, adminUserHandler.SetApproval))
				r.Method(http.MethodPut, "/role", requires(permissions.ActionUserManage, adminUserHandler.SetRole))
				r.Method(http.MethodPut, "/capacity", requires(permissions.ActionUserManage, adminUserHandler.SetCapacity))
			})
		})

		r.Route("/stats", func(r chi.Router) {
			r.Method(http.MethodGet, "/throughput", requires(permissions.ActionStatsView, statsHandler.Throughput))
			r.Method(http.MethodGet, "/batches", requires(permissions.ActionStatsView, statsHandler.BatchProgress))
			r.Method(http.MethodGet, "/overdue", requires(permissions.ActionStatsView, statsHandler.OverdueAssignments))
			r.Method(http.MethodGet, "/audit", requires(permissions.ActionStatsView, statsHandler.AuditTrail))
		})

		r.Get("/ws", hub.ServeWS)

		thumbSubDir := filepath.Base(cfg.ThumbnailsPath)
		r.Get("/"+thumbSubDir+"/*", handlers.AssetServer(cfg.ThumbnailsPath, "/api/"+thumbSubDir+"/"))

		exportSubDir := filepath.Base(cfg.ExportsPath)
		r.Get("/"+exportSubDir+"/*", handlers.AssetServer(cfg.ExportsPath, "/api/"+exportSubDir+"/"))
	})

	log.Printf("Using database: %s", cfg.DatabasePath)
	log.Printf("Storing media in: %s", cfg.MediaStoragePath)
	log.Printf("Server listening on %s", cfg.ListenAddr)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.Fatal(server.ListenAndServe())
}
