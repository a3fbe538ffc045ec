package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Common errors
var (
	ErrUnknownNormalizer = errors.New("unknown normalizer")
)

// MissingFieldError reports a raw row that cannot be normalized because a
// mandatory field is absent or unparseable. Rows failing this way are logged
// and skipped by the ingestion jobs; they never reach the store.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("row missing required field %q", e.Field)
}

// Incident is the canonical, source-agnostic incident representation produced
// by normalizers and consumed by the incident store. Tri-state booleans
// (arrest, domestic) use *bool where nil means unknown.
type Incident struct {
	City       string `json:"city"`
	SourceSlug string `json:"source_slug"`
	RowUID     string `json:"row_uid"`

	OccurredAt    time.Time  `json:"occurred_at"`
	ReportedAt    *time.Time `json:"reported_at,omitempty"`
	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`

	PrimaryType    string `json:"primary_type"`
	Description    string `json:"description,omitempty"`
	IUCR           string `json:"iucr,omitempty"`
	ExternalCaseID string `json:"external_case_id,omitempty"`

	Arrest   *bool `json:"arrest,omitempty"`
	Domestic *bool `json:"domestic,omitempty"`

	District            string `json:"district,omitempty"`
	Beat                string `json:"beat,omitempty"`
	Ward                string `json:"ward,omitempty"`
	CommunityArea       string `json:"community_area,omitempty"`
	LocationDescription string `json:"location_description,omitempty"`
	StreetBlock         string `json:"street_block,omitempty"`

	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	XCoordinate *float64 `json:"x_coordinate,omitempty"`
	YCoordinate *float64 `json:"y_coordinate,omitempty"`

	RawRecord  map[string]any `json:"raw_record"`
	ReceiptURL string         `json:"receipt_url,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IncidentID returns the derived stable identifier, city:sourceSlug:rowUid.
func (i *Incident) IncidentID() string {
	return fmt.Sprintf("%s:%s:%s", i.City, i.SourceSlug, i.RowUID)
}

// Normalizer converts one raw portal row into a canonical incident.
// One implementation exists per upstream source; new sources register via
// init() without touching the jobs or the store.
type Normalizer interface {
	// Slug returns the normalizer key used in the feed registry.
	Slug() string

	// Normalize maps a raw row to a canonical incident, or fails with a
	// *MissingFieldError when a mandatory field cannot be extracted.
	Normalize(row map[string]any) (*Incident, error)
}

var registry = make(map[string]Normalizer)

// Register registers a normalizer under its slug. Called from init() in each
// adapter file.
func Register(n Normalizer) {
	registry[n.Slug()] = n
}

// Get looks up a registered normalizer by slug.
func Get(slug string) (Normalizer, error) {
	n, ok := registry[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNormalizer, slug)
	}
	return n, nil
}

// ---- shared field parsing helpers ----

var (
	trueSet  = map[string]struct{}{"true": {}, "t": {}, "1": {}, "yes": {}}
	falseSet = map[string]struct{}{"false": {}, "f": {}, "0": {}, "no": {}}
)

// ParseBool normalizes the portal's varied boolean encodings to a tri-state
// value: nil means unknown. Unrecognized values are unknown, never an error.
func ParseBool(v any) *bool {
	if v == nil {
		return nil
	}
	if b, ok := v.(bool); ok {
		return &b
	}
	s := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", v)))
	if _, ok := trueSet[s]; ok {
		b := true
		return &b
	}
	if _, ok := falseSet[s]; ok {
		b := false
		return &b
	}
	return nil
}

// ParseFloat parses a numeric field, normalizing parse failures to absent.
func ParseFloat(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		return &t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// timeLayouts are tried in order. Socrata floating timestamps carry no zone
// and are interpreted as UTC.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseTime parses the portal's date-time text into a UTC instant, or nil when
// the value is absent or unparseable. Callers treat nil as a hard failure only
// for mandatory timestamps.
func ParseTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

// SafeString trims a loosely typed field to a string, empty when absent.
func SafeString(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}
