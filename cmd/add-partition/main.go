package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

// CLI flags
var (
	city   = flag.String("city", "", "City code to create an incidents partition for (required)")
	dsn    = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
	dryRun = flag.Bool("dry-run", false, "Print the DDL without executing it")
)

// City codes become part of table names, so keep them strictly lowercase
// snake case.
var cityPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()
	if *city == "" {
		fatalf("--city is required")
	}
	if !cityPattern.MatchString(*city) {
		fatalf("invalid city code %q (lowercase snake case only)", *city)
	}
	if *dsn == "" {
		fatalf("--dsn not provided and DATABASE_URL not set")
	}

	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS incidents_city_%s PARTITION OF incidents FOR VALUES IN ('%s')`,
		*city, *city,
	)

	if *dryRun {
		fmt.Println(ddl)
		fmt.Println("Dry run complete. No changes made.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		fatalf("ping: %v", err)
	}

	// Rows for this city already sit in the default partition if any were
	// ingested before the split; Postgres will refuse the attach in that
	// case, which is the safe outcome.
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		fatalf("create partition: %v", err)
	}

	fmt.Printf("Created partition incidents_city_%s\n", *city)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
