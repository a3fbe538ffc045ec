package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shanemeister/ChicagoDataPortal/internal/incidents"
	"github.com/shanemeister/ChicagoDataPortal/internal/ingest"
	"github.com/shanemeister/ChicagoDataPortal/internal/ingest/socrata"
)

func main() {
	_ = godotenv.Load(".env.local")

	var (
		days     = flag.Int("days", 7, "number of past days to ingest")
		limit    = flag.Int("limit", 50000, "maximum records to fetch per run")
		city     = flag.String("city", "chicago", "city code of the feed to ingest")
		sources  = flag.String("sources", "", "optional sources YAML file")
		appToken = flag.String("app-token", os.Getenv("SOCRATA_APP_TOKEN"), "optional Socrata app token")
		dbURL    = flag.String("db", os.Getenv("DATABASE_URL"), "Postgres DSN")
	)
	flag.Parse()

	if *dbURL == "" {
		log.Fatal("DATABASE_URL (or -db) is required")
	}

	feeds := ingest.DefaultFeeds()
	if *sources != "" {
		loaded, err := ingest.LoadFeeds(*sources)
		if err != nil {
			log.Fatal(err)
		}
		feeds = loaded
	}
	feed, err := ingest.FeedForCity(feeds, *city)
	if err != nil {
		log.Fatal(err)
	}

	gdb, err := gorm.Open(postgres.Open(*dbURL), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}

	client := socrata.NewClient(feed.APIBase,
		socrata.WithAppToken(*appToken),
		socrata.WithPageSize(*limit),
	)
	deps := ingest.JobDeps{
		Fetcher: client,
		Ledger:  incidents.NewStore(gdb),
	}

	log.Printf("[ingest-recent] city=%s days=%d limit=%d", feed.City, *days, *limit)
	if err := ingest.RecentWindow(context.Background(), deps, feed, *days, *limit); err != nil {
		log.Fatal(err)
	}
}
