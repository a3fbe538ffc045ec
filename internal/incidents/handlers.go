package incidents

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shanemeister/ChicagoDataPortal/internal/db"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// CityMeta is the static map configuration served alongside per-city totals.
type CityMeta struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Zoom  float64 `json:"zoom"`
}

// CityMetadata enumerates the supported cities. Queries for anything else are
// rejected as a client error.
var CityMetadata = map[string]CityMeta{
	"chicago":     {Label: "Chicago, IL", Lat: 41.8781, Lng: -87.6298, Zoom: 10.5},
	"los_angeles": {Label: "Los Angeles, CA", Lat: 34.0522, Lng: -118.2437, Zoom: 10.5},
	"new_york":    {Label: "New York City, NY", Lat: 40.7128, Lng: -74.0060, Zoom: 11},
	"dallas":      {Label: "Dallas, TX", Lat: 32.7767, Lng: -96.7970, Zoom: 11},
}

// PeriodWindows maps the period enum to a lookback duration; zero means
// all-time.
var PeriodWindows = map[string]time.Duration{
	"24h":  24 * time.Hour,
	"7d":   7 * 24 * time.Hour,
	"30d":  30 * 24 * time.Hour,
	"90d":  90 * 24 * time.Hour,
	"365d": 365 * 24 * time.Hour,
	"all":  0,
}

const (
	defaultPageLimit = 1000
	maxPageLimit     = 5000
)

type IncidentOut struct {
	ID          string    `json:"id"`
	City        string    `json:"city"`
	PrimaryType string    `json:"primary_type"`
	Description *string   `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
}

type TypeCountOut struct {
	PrimaryType string `json:"primary_type"`
	Count       int64  `json:"count"`
}

type AggregatesOut struct {
	TotalIncidents int64      `json:"total_incidents"`
	LastOccurredAt *time.Time `json:"last_occurred_at"`
}

type IncidentsResponse struct {
	City            string         `json:"city"`
	Period          string         `json:"period"`
	Count           int            `json:"count"`
	Results         []IncidentOut  `json:"results"`
	NextCursor      *string        `json:"next_cursor"`
	CrimeTypeCounts []TypeCountOut `json:"crime_type_counts"`
	Aggregates      AggregatesOut  `json:"aggregates"`
}

// GetIncidents serves the cursor-paginated incident query:
// /incidents?city=&period=&crime=&limit=&cursor=
func GetIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	city := strings.ToLower(q.Get("city"))
	if _, ok := CityMetadata[city]; !ok {
		http.Error(w, "Unsupported city", http.StatusBadRequest)
		return
	}

	period := q.Get("period")
	if period == "" {
		period = "30d"
	}
	window, ok := PeriodWindows[period]
	if !ok {
		http.Error(w, "Unsupported period", http.StatusBadRequest)
		return
	}

	limit := defaultPageLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageLimit {
			http.Error(w, "Invalid limit (1-5000)", http.StatusBadRequest)
			return
		}
		limit = n
	}

	tx := db.DB.WithContext(r.Context()).Model(&Incident{}).
		Where("city = ?", city).
		Where("latitude IS NOT NULL").
		Where("longitude IS NOT NULL")

	if window > 0 {
		tx = tx.Where("occurred_at >= ?", time.Now().UTC().Add(-window))
	}

	if crime := q.Get("crime"); crime != "" && !strings.EqualFold(crime, "ALL") {
		tx = tx.Where("primary_type = ?", strings.ToUpper(crime))
	}

	if token := q.Get("cursor"); token != "" {
		cur, err := DecodeCursor(token)
		if err != nil {
			http.Error(w, "Invalid cursor", http.StatusBadRequest)
			return
		}
		tx = tx.Where("(occurred_at < ? OR (occurred_at = ? AND id < ?))",
			cur.OccurredAt, cur.OccurredAt, cur.ID)
	}

	var page []Incident
	if err := tx.Order("occurred_at DESC, id DESC").Limit(limit).Find(&page).Error; err != nil {
		http.Error(w, "Query failed", http.StatusInternalServerError)
		return
	}

	// The breakdown and the aggregate summarize the whole city, deliberately
	// independent of the page's filters and window.
	var typeCounts []TypeCountOut
	if err := db.DB.WithContext(r.Context()).Model(&Incident{}).
		Select("primary_type, COUNT(*) AS count").
		Where("city = ?", city).
		Group("primary_type").
		Order("count DESC").
		Scan(&typeCounts).Error; err != nil {
		http.Error(w, "Query failed", http.StatusInternalServerError)
		return
	}

	var agg AggregatesOut
	if err := db.DB.WithContext(r.Context()).Model(&Incident{}).
		Select("COUNT(*) AS total_incidents, MAX(occurred_at) AS last_occurred_at").
		Where("city = ?", city).
		Scan(&agg).Error; err != nil {
		http.Error(w, "Query failed", http.StatusInternalServerError)
		return
	}

	results := make([]IncidentOut, 0, len(page))
	for _, inc := range page {
		results = append(results, IncidentOut{
			ID:          inc.ID,
			City:        inc.City,
			PrimaryType: inc.PrimaryType,
			Description: inc.Description,
			OccurredAt:  inc.OccurredAt,
			Latitude:    inc.Latitude,
			Longitude:   inc.Longitude,
		})
	}

	// A full page means there may be more; a short page ends the scan.
	var nextCursor *string
	if len(page) == limit {
		last := page[len(page)-1]
		token := Cursor{OccurredAt: last.OccurredAt, ID: last.ID}.Encode()
		nextCursor = &token
	}

	writeJSON(w, IncidentsResponse{
		City:            city,
		Period:          period,
		Count:           len(results),
		Results:         results,
		NextCursor:      nextCursor,
		CrimeTypeCounts: typeCounts,
		Aggregates:      agg,
	})
}

type CityOut struct {
	ID             string     `json:"id"`
	Label          string     `json:"label"`
	Lat            float64    `json:"lat"`
	Lng            float64    `json:"lng"`
	Zoom           float64    `json:"zoom"`
	TotalIncidents int64      `json:"total_incidents"`
	LastOccurredAt *time.Time `json:"last_occurred_at"`
}

// GetCities serves per-city totals joined onto the static map metadata.
func GetCities(w http.ResponseWriter, r *http.Request) {
	type citySummary struct {
		City           string
		Total          int64
		LastOccurredAt *time.Time
	}
	var rows []citySummary
	if err := db.DB.WithContext(r.Context()).Model(&Incident{}).
		Select("city, COUNT(*) AS total, MAX(occurred_at) AS last_occurred_at").
		Group("city").
		Scan(&rows).Error; err != nil {
		http.Error(w, "Query failed", http.StatusInternalServerError)
		return
	}

	byCity := make(map[string]citySummary, len(rows))
	for _, row := range rows {
		byCity[row.City] = row
	}

	out := make([]CityOut, 0, len(CityMetadata))
	for _, id := range []string{"chicago", "los_angeles", "new_york", "dallas"} {
		meta := CityMetadata[id]
		summary := byCity[id]
		out = append(out, CityOut{
			ID:             id,
			Label:          meta.Label,
			Lat:            meta.Lat,
			Lng:            meta.Lng,
			Zoom:           meta.Zoom,
			TotalIncidents: summary.Total,
			LastOccurredAt: summary.LastOccurredAt,
		})
	}

	writeJSON(w, map[string]any{"cities": out})
}

// HealthCheck reports liveness; it sits outside the API-key gate.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
