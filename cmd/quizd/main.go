package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	api "github.com/skillgrove/skillgrove-api/internal/api/http"
	"github.com/skillgrove/skillgrove-api/internal/attempt"
	auth "github.com/skillgrove/skillgrove-api/internal/auth/middleware"
	"github.com/skillgrove/skillgrove-api/internal/config"
	"github.com/skillgrove/skillgrove-api/internal/db"
	"github.com/skillgrove/skillgrove-api/internal/grading"
	"github.com/skillgrove/skillgrove-api/internal/rbac"
	"github.com/skillgrove/skillgrove-api/internal/scheduler"
	"github.com/skillgrove/skillgrove-api/internal/storage"
	syncx "github.com/skillgrove/skillgrove-api/internal/sync"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := attempt.NewSQLStore(dbh)

	// --- Attempt lifecycle core ---
	events := syncx.NewEventRepo(dbh)
	ctl := attempt.NewController(store, grading.NewEngine(), attempt.WithEventLog(events))
	// re-arm watchdogs for attempts that were active when the process died
	if err := ctl.Resume(context.Background()); err != nil {
		log.Fatalf("resume attempts: %v", err)
	}
	sweep := scheduler.New(ctl, time.Duration(cfg.SweepIntervalSec)*time.Second)
	sweep.Start()
	defer sweep.Stop()

	// --- Auth / RBAC ---
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret)
	checker := rbac.NewChecker(nil)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := cfg.CORSOriginsOffline
	if cfg.Mode == config.ModeOnline {
		origins = cfg.CORSOriginsOnline
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	// Protected API (JWT → subject/role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		// Instructor: author quiz definitions
		pr.With(checker.Require("quiz:create")).
			Put("/quizzes", api.UploadQuizHandler(store))

		// Learner/instructor: fetch quiz (redacted for learners)
		pr.With(checker.Require("quiz:view")).
			Get("/quizzes/{quizID}", api.GetQuizHandler(store, checker))

		pr.With(checker.RequireAny("attempt:view-own", "history:view-all")).
			Get("/quizzes/{quizID}/history", api.GetHistoryHandler(store, checker))

		// Learner flow
		pr.With(checker.Require("attempt:create")).
			Post("/attempts", api.StartAttemptHandler(ctl))
		pr.With(checker.Require("attempt:answer")).
			Post("/attempts/{attemptID}/answers", api.RecordAnswerHandler(ctl, checker))
		pr.With(checker.Require("attempt:answer")).
			Post("/attempts/{attemptID}/navigate", api.NavigateHandler(ctl, checker))
		pr.With(checker.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(ctl, checker))
		pr.With(checker.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptStateHandler(ctl, checker))
		pr.With(checker.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}/result", api.GetAttemptResultHandler(ctl, checker))
		pr.With(checker.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(store, checker))

		// Manual grading handoff (instructor)
		pr.With(checker.Require("attempt:grade")).
			Get("/attempts/{attemptID}/grading", api.GetPendingGradingHandler(ctl))
		pr.With(checker.Require("attempt:grade")).
			Post("/attempts/{attemptID}/grading", api.ApplyManualGradesHandler(ctl))

		// Answer media for assignment/recording questions
		pr.Route("/uploads", func(ur chi.Router) {
			api.MountUploads(ur, bs, ctl, checker)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
