package incidents

import (
	"time"

	"gorm.io/datatypes"
)

// Source is one upstream feed, unique per (city, portal_slug). Optional
// metadata (license, refresh cadence) only widens on re-registration.
type Source struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	City           string    `json:"city" gorm:"not null;uniqueIndex:uniq_city_portal"`
	PortalSlug     string    `json:"portal_slug" gorm:"not null;uniqueIndex:uniq_city_portal"`
	Name           string    `json:"name" gorm:"not null"`
	APIBase        string    `json:"api_base" gorm:"not null"`
	License        *string   `json:"license,omitempty"`
	RefreshCadence *string   `json:"refresh_cadence,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Ingest run lifecycle states. A run starts running and terminates in exactly
// one of the other three; it never reopens.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusPartial   = "partial"
)

// IngestRun records one execution of a fetch-normalize-upsert pipeline.
type IngestRun struct {
	ID             int64      `json:"id" gorm:"primaryKey"`
	SourceID       int64      `json:"source_id" gorm:"not null"`
	Source         *Source    `json:"-" gorm:"foreignKey:SourceID;constraint:OnDelete:RESTRICT"`
	FlowName       string     `json:"flow_name"`
	RunStartedAt   time.Time  `json:"run_started_at" gorm:"not null;default:now()"`
	RunCompletedAt *time.Time `json:"run_completed_at,omitempty"`
	Status         string     `json:"status" gorm:"not null"`
	RowsFetched    *int       `json:"rows_fetched,omitempty"`
	RowsInserted   *int       `json:"rows_inserted,omitempty"`
	RowsUpdated    *int       `json:"rows_updated,omitempty"`
	RowsDeleted    *int       `json:"rows_deleted,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

// Incident is the stored canonical incident. The table is partitioned by city
// with a default catch-all partition, so its DDL lives in Init() rather than
// AutoMigrate; the struct is used for reads and for the query layer.
type Incident struct {
	City                string         `json:"city" gorm:"primaryKey"`
	ID                  string         `json:"id" gorm:"primaryKey"`
	SourceID            int64          `json:"source_id"`
	IngestRunID         *int64         `json:"ingest_run_id,omitempty"`
	ExternalCaseID      *string        `json:"external_case_id,omitempty"`
	RowUID              string         `json:"row_uid"`
	OccurredAt          time.Time      `json:"occurred_at"`
	ReportedAt          *time.Time     `json:"reported_at,omitempty"`
	LastUpdatedAt       *time.Time     `json:"last_updated_at,omitempty"`
	PrimaryType         string         `json:"primary_type"`
	Description         *string        `json:"description,omitempty"`
	IUCR                *string        `json:"iucr,omitempty"`
	Arrest              *bool          `json:"arrest,omitempty"`
	Domestic            *bool          `json:"domestic,omitempty"`
	District            *string        `json:"district,omitempty"`
	Beat                *string        `json:"beat,omitempty"`
	Ward                *string        `json:"ward,omitempty"`
	CommunityArea       *string        `json:"community_area,omitempty"`
	LocationDescription *string        `json:"location_description,omitempty"`
	StreetBlock         *string        `json:"street_block,omitempty"`
	Latitude            *float64       `json:"latitude,omitempty"`
	Longitude           *float64       `json:"longitude,omitempty"`
	Geohash7            *string        `json:"geohash7,omitempty"`
	XCoordinate         *float64       `json:"x_coordinate,omitempty"`
	YCoordinate         *float64       `json:"y_coordinate,omitempty"`
	RawRecord           datatypes.JSON `json:"raw_record"`
	ReceiptURL          *string        `json:"receipt_url,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func (Source) TableName() string {
	return "sources"
}

func (IngestRun) TableName() string {
	return "ingest_runs"
}

func (Incident) TableName() string {
	return "incidents"
}
