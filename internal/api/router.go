package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pharmatech/medication-adherence/internal/catalog"
	"github.com/pharmatech/medication-adherence/internal/regimen"
)

type RouterConfig struct {
	Service *regimen.Service
	Catalog catalog.Provider
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/regimens", createRegimenHandler(cfg.Service))
	r.Get("/regimens", listRegimensHandler(cfg.Service))
	r.Get("/regimens/{id}", getRegimenHandler(cfg.Service))
	r.Put("/regimens/{id}", updateRegimenHandler(cfg.Service))
	r.Delete("/regimens/{id}", disableRegimenHandler(cfg.Service))
	r.Post("/regimens/{id}/materialize", materializeHandler(cfg.Service))

	r.Get("/dose-events/today", todayDoseEventsHandler(cfg.Service))
	r.Get("/dose-events/pending", pendingDoseEventsHandler(cfg.Service))
	r.Post("/dose-events/{id}/take", markTakenHandler(cfg.Service))
	r.Post("/dose-events/{id}/skip", markSkippedHandler(cfg.Service))

	r.Get("/adherence", adherenceHandler(cfg.Service))
	r.Get("/history", historyHandler(cfg.Service))

	if cfg.Catalog != nil {
		r.Get("/catalog", searchCatalogHandler(cfg.Catalog))
	}

	return r
}
