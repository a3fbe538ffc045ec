package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/shanemeister/ChicagoDataPortal/internal/db"
	"github.com/shanemeister/ChicagoDataPortal/internal/incidents"
	"github.com/shanemeister/ChicagoDataPortal/internal/ingest"
	"github.com/shanemeister/ChicagoDataPortal/internal/ingest/socrata"
	"github.com/shanemeister/ChicagoDataPortal/internal/middleware"
)

func main() {
	_ = godotenv.Load(".env.local")
	db.Connect()
	defer db.Close()

	incidents.Init()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8001"
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(middleware.CORSMiddleware)

	r.Get("/health", incidents.HealthCheck)

	api := chi.NewRouter()
	api.Use(middleware.APIKeyMiddleware)
	api.Use(middleware.RateLimitMiddleware)
	api.Mount("/", incidents.SetupRoutes())
	r.Mount("/", api)

	if spec := os.Getenv("INGEST_CRON"); spec != "" {
		c, err := startIngestCron(spec)
		if err != nil {
			log.Fatal("Failed to start ingest scheduler: ", err)
		}
		defer c.Stop()
	}

	fmt.Println("Server listening on port :" + port + "...")
	if err := http.ListenAndServe("0.0.0.0:"+port, r); err != nil {
		log.Fatal(err)
	}
}

// startIngestCron schedules a recent-window ingestion for every configured
// feed. Days and fetch cap come from INGEST_DAYS / INGEST_LIMIT.
func startIngestCron(spec string) (*cron.Cron, error) {
	feeds := ingest.DefaultFeeds()
	if path := os.Getenv("SOURCES_FILE"); path != "" {
		loaded, err := ingest.LoadFeeds(path)
		if err != nil {
			return nil, err
		}
		feeds = loaded
	}

	days := envInt("INGEST_DAYS", 7)
	limit := envInt("INGEST_LIMIT", 50000)

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		store := incidents.NewStore(db.DB)
		for _, feed := range feeds {
			client := socrata.NewClient(feed.APIBase,
				socrata.WithAppToken(os.Getenv("SOCRATA_APP_TOKEN")),
			)
			deps := ingest.JobDeps{Fetcher: client, Ledger: store}
			if err := ingest.RecentWindow(context.Background(), deps, feed, days, limit); err != nil {
				log.Printf("[scheduler] %s recent ingest failed: %v", feed.City, err)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	log.Printf("[scheduler] recent ingest scheduled: %s (days=%d limit=%d)", spec, days, limit)
	return c, nil
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil || v <= 0 {
		return def
	}
	return v
}
