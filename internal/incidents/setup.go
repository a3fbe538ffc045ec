package incidents

import (
	"log"

	"github.com/shanemeister/ChicagoDataPortal/internal/db"
)

// cityPartitions are the cities that get a dedicated partition. Anything else
// lands in the default partition.
var cityPartitions = []string{"chicago", "los_angeles", "new_york", "dallas"}

func Init() {
	if err := db.DB.Exec(`CREATE EXTENSION IF NOT EXISTS postgis`).Error; err != nil {
		log.Fatal("Failed to enable postgis extension: ", err)
	}

	if err := db.DB.AutoMigrate(
		&Source{},
		&IngestRun{},
	); err != nil {
		log.Fatal("Failed to auto-migrate tables: ", err)
	}

	// incidents is partitioned by city, which AutoMigrate cannot express.
	if err := db.DB.Exec(`
		CREATE TABLE IF NOT EXISTS incidents (
			city                 TEXT        NOT NULL,
			id                   TEXT        NOT NULL,
			source_id            BIGINT      NOT NULL REFERENCES sources(id) ON DELETE RESTRICT,
			ingest_run_id        BIGINT      REFERENCES ingest_runs(id) ON DELETE SET NULL,
			external_case_id     TEXT,
			row_uid              TEXT        NOT NULL,
			occurred_at          TIMESTAMPTZ NOT NULL,
			reported_at          TIMESTAMPTZ,
			last_updated_at      TIMESTAMPTZ,
			primary_type         TEXT        NOT NULL,
			description          TEXT,
			iucr                 TEXT,
			arrest               BOOLEAN,
			domestic             BOOLEAN,
			district             TEXT,
			beat                 TEXT,
			ward                 TEXT,
			community_area       TEXT,
			location_description TEXT,
			street_block         TEXT,
			latitude             DOUBLE PRECISION,
			longitude            DOUBLE PRECISION,
			geom                 geometry(Point, 4326),
			geohash7             TEXT,
			x_coordinate         DOUBLE PRECISION,
			y_coordinate         DOUBLE PRECISION,
			raw_record           JSONB       NOT NULL,
			receipt_url          TEXT,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (city, id),
			UNIQUE (city, source_id, row_uid)
		) PARTITION BY LIST (city);
	`).Error; err != nil {
		log.Fatal("Failed to create incidents table: ", err)
	}

	for _, city := range cityPartitions {
		if err := db.DB.Exec(
			`CREATE TABLE IF NOT EXISTS incidents_city_` + city + ` PARTITION OF incidents FOR VALUES IN ('` + city + `')`,
		).Error; err != nil {
			log.Fatal("Failed to create partition for "+city+": ", err)
		}
	}
	if err := db.DB.Exec(`
		CREATE TABLE IF NOT EXISTS incidents_city_default PARTITION OF incidents DEFAULT
	`).Error; err != nil {
		log.Fatal("Failed to create default partition: ", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS incidents_city_occurred_idx ON incidents (city, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS incidents_primary_type_idx ON incidents (city, primary_type, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS incidents_geom_idx ON incidents USING GIST (geom)`,
		`CREATE INDEX IF NOT EXISTS incidents_geohash_idx ON incidents (geohash7)`,
	} {
		if err := db.DB.Exec(stmt).Error; err != nil {
			log.Fatal("Failed to create incidents index: ", err)
		}
	}
}
