package incidents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmcloughlin/geohash"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shanemeister/ChicagoDataPortal/internal/ingest/normalize"
)

// GeohashPrecision is the fixed geohash length stored alongside the geometry.
const GeohashPrecision = 7

// Counts carries the row totals recorded on a finalized ingest run.
type Counts struct {
	Fetched  int
	Inserted int
	Updated  int
}

// Store provides the write path (source registry, ingest-run ledger, batch
// upsert) and is constructed over an explicit GORM handle so tests can
// substitute their own connection.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// EnsureSource idempotently registers an upstream feed and returns its id.
// Repeated calls with the same (city, portal_slug) update name/api_base and
// only widen license/refresh_cadence — a null never erases a recorded value.
func (s *Store) EnsureSource(ctx context.Context, city, portalSlug, name, apiBase string, license, cadence *string) (int64, error) {
	src := Source{
		City:           city,
		PortalSlug:     portalSlug,
		Name:           name,
		APIBase:        apiBase,
		License:        license,
		RefreshCadence: cadence,
	}
	err := s.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "city"}, {Name: "portal_slug"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"name":            gorm.Expr("excluded.name"),
				"api_base":        gorm.Expr("excluded.api_base"),
				"license":         gorm.Expr(`COALESCE(excluded.license, "sources"."license")`),
				"refresh_cadence": gorm.Expr(`COALESCE(excluded.refresh_cadence, "sources"."refresh_cadence")`),
				"updated_at":      gorm.Expr("now()"),
			}),
		},
		clause.Returning{Columns: []clause.Column{{Name: "id"}}},
	).Create(&src).Error
	if err != nil {
		return 0, fmt.Errorf("ensure source %s/%s: %w", city, portalSlug, err)
	}
	return src.ID, nil
}

// StartIngestRun opens a running ledger record for one pipeline execution.
func (s *Store) StartIngestRun(ctx context.Context, sourceID int64, flowName string) (int64, error) {
	run := IngestRun{
		SourceID:     sourceID,
		FlowName:     flowName,
		RunStartedAt: time.Now().UTC(),
		Status:       RunStatusRunning,
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return 0, fmt.Errorf("start ingest run: %w", err)
	}
	return run.ID, nil
}

// FinalizeIngestRun transitions a run to a terminal status. Callers finalize
// exactly once per run on every code path.
func (s *Store) FinalizeIngestRun(ctx context.Context, runID int64, status string, counts Counts, notes string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":           status,
		"run_completed_at": now,
		"rows_fetched":     counts.Fetched,
		"rows_inserted":    counts.Inserted,
		"rows_updated":     counts.Updated,
		"notes":            notes,
	}
	res := s.db.WithContext(ctx).Model(&IngestRun{}).Where("id = ?", runID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finalize ingest run %d: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finalize ingest run %d: no such run", runID)
	}
	return nil
}

// upsertIncidentSQL applies one canonical incident keyed on the natural key
// (city, source_id, row_uid). Every mutable field is overwritten; geometry and
// geohash are recomputed from the incoming coordinates, so absent coordinates
// null out prior values. RETURNING (xmax = 0) distinguishes an insert from an
// update without parsing driver status text.
const upsertIncidentSQL = `
INSERT INTO incidents (
	city, id, source_id, ingest_run_id, external_case_id, row_uid,
	occurred_at, reported_at, last_updated_at, primary_type, description, iucr,
	arrest, domestic, district, beat, ward, community_area,
	location_description, street_block, latitude, longitude,
	geom, geohash7, x_coordinate, y_coordinate, raw_record, receipt_url,
	created_at, updated_at
) VALUES (
	?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?, ?,
	?, ?, ?, ?,
	CASE WHEN ?::float8 IS NULL OR ?::float8 IS NULL THEN NULL
	     ELSE ST_SetSRID(ST_MakePoint(?::float8, ?::float8), 4326) END,
	?, ?, ?, ?::jsonb, ?,
	now(), now()
)
ON CONFLICT (city, source_id, row_uid) DO UPDATE SET
	ingest_run_id        = EXCLUDED.ingest_run_id,
	external_case_id     = EXCLUDED.external_case_id,
	occurred_at          = EXCLUDED.occurred_at,
	reported_at          = EXCLUDED.reported_at,
	last_updated_at      = EXCLUDED.last_updated_at,
	primary_type         = EXCLUDED.primary_type,
	description          = EXCLUDED.description,
	iucr                 = EXCLUDED.iucr,
	arrest               = EXCLUDED.arrest,
	domestic             = EXCLUDED.domestic,
	district             = EXCLUDED.district,
	beat                 = EXCLUDED.beat,
	ward                 = EXCLUDED.ward,
	community_area       = EXCLUDED.community_area,
	location_description = EXCLUDED.location_description,
	street_block         = EXCLUDED.street_block,
	latitude             = EXCLUDED.latitude,
	longitude            = EXCLUDED.longitude,
	geom = CASE WHEN EXCLUDED.longitude IS NULL OR EXCLUDED.latitude IS NULL THEN NULL
	       ELSE ST_SetSRID(ST_MakePoint(EXCLUDED.longitude, EXCLUDED.latitude), 4326) END,
	geohash7             = EXCLUDED.geohash7,
	x_coordinate         = EXCLUDED.x_coordinate,
	y_coordinate         = EXCLUDED.y_coordinate,
	raw_record           = EXCLUDED.raw_record,
	receipt_url          = EXCLUDED.receipt_url,
	updated_at           = now()
RETURNING (xmax = 0) AS inserted
`

// UpsertBatch applies an ordered batch of canonical incidents inside one
// transaction, returning how many rows were newly inserted vs. overwritten.
// Any row-level failure rolls the whole batch back.
func (s *Store) UpsertBatch(ctx context.Context, sourceID int64, batch []*normalize.Incident, ingestRunID *int64) (int, int, error) {
	if len(batch) == 0 {
		return 0, 0, nil
	}

	start := time.Now()
	inserted, updated := 0, 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, inc := range batch {
			raw, err := json.Marshal(inc.RawRecord)
			if err != nil {
				return fmt.Errorf("encode raw record for %s: %w", inc.IncidentID(), err)
			}

			var gh *string
			if inc.Latitude != nil && inc.Longitude != nil {
				g := geohash.EncodeWithPrecision(*inc.Latitude, *inc.Longitude, GeohashPrecision)
				gh = &g
			}

			var wasInsert bool
			err = tx.Raw(upsertIncidentSQL,
				inc.City, inc.IncidentID(), sourceID, ingestRunID, nullString(inc.ExternalCaseID), inc.RowUID,
				inc.OccurredAt, inc.ReportedAt, inc.LastUpdatedAt, inc.PrimaryType, nullString(inc.Description), nullString(inc.IUCR),
				inc.Arrest, inc.Domestic, nullString(inc.District), nullString(inc.Beat), nullString(inc.Ward), nullString(inc.CommunityArea),
				nullString(inc.LocationDescription), nullString(inc.StreetBlock), inc.Latitude, inc.Longitude,
				inc.Longitude, inc.Latitude, inc.Longitude, inc.Latitude,
				gh, inc.XCoordinate, inc.YCoordinate, string(raw), nullString(inc.ReceiptURL),
			).Scan(&wasInsert).Error
			if err != nil {
				return fmt.Errorf("upsert incident %s: %w", inc.IncidentID(), err)
			}
			if wasInsert {
				inserted++
			} else {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	normalize.LogUpsert("store", inserted, updated, time.Since(start))
	return inserted, updated, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
