package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

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
		start     = flag.String("start", "", "start month (inclusive), YYYY-MM or YYYY-MM-DD")
		end       = flag.String("end", "", "end month (inclusive), defaults to the current month")
		limit     = flag.Int("limit", 0, "maximum records to fetch per window (0 = all)")
		pageSize  = flag.Int("page-size", 5000, "rows per Socrata request (max 50000)")
		batchSize = flag.Int("batch-size", 1000, "incidents per upsert batch")
		city      = flag.String("city", "chicago", "city code of the feed to ingest")
		sources   = flag.String("sources", "", "optional sources YAML file")
		appToken  = flag.String("app-token", os.Getenv("SOCRATA_APP_TOKEN"), "optional Socrata app token")
		dbURL     = flag.String("db", os.Getenv("DATABASE_URL"), "Postgres DSN")
	)
	flag.Parse()

	if *start == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *dbURL == "" {
		log.Fatal("DATABASE_URL (or -db) is required")
	}

	startMonth, err := ingest.ParseMonth(*start)
	if err != nil {
		log.Fatal(err)
	}
	endMonth := ingest.CurrentMonthStart()
	if *end != "" {
		if endMonth, err = ingest.ParseMonth(*end); err != nil {
			log.Fatal(err)
		}
	}
	// End month is inclusive; the window bound is the start of the next one.
	endBound := endMonth.AddDate(0, 1, 0)

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
		socrata.WithPageSize(*pageSize),
		socrata.WithRetry(6, 1500*time.Millisecond),
	)
	deps := ingest.JobDeps{
		Fetcher: client,
		Ledger:  incidents.NewStore(gdb),
	}

	log.Printf("[ingest-backfill] city=%s from=%s to=%s (exclusive)",
		feed.City, startMonth.Format("2006-01"), endBound.Format("2006-01"))
	if err := ingest.Backfill(context.Background(), deps, feed, startMonth, endBound, *limit, *batchSize); err != nil {
		log.Fatal(err)
	}
}
