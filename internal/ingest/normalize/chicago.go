package normalize

import (
	"encoding/json"
	"fmt"
)

const (
	// ChicagoDatasetID is the Socrata dataset identifier for the
	// "Crimes - 2001 to Present" feed.
	ChicagoDatasetID = "ijzp-q8t2"

	ChicagoSourceSlug = "chicago_crimes_2001_present"
	ChicagoCityCode   = "chicago"
	ChicagoAPIBase    = "https://data.cityofchicago.org"
)

// chicagoRow is the typed intermediate for a Chicago Socrata row. Decoding the
// raw map through it keeps type coercion explicit; numeric and boolean fields
// stay as strings here because the portal serves them as text.
type chicagoRow struct {
	ID                  string `json:"id"`
	CaseNumber          string `json:"case_number"`
	Date                string `json:"date"`
	UpdatedOn           string `json:"updated_on"`
	PrimaryType         string `json:"primary_type"`
	Description         string `json:"description"`
	IUCR                string `json:"iucr"`
	Arrest              any    `json:"arrest"`
	Domestic            any    `json:"domestic"`
	District            any    `json:"district"`
	Beat                any    `json:"beat"`
	Ward                any    `json:"ward"`
	CommunityArea       any    `json:"community_area"`
	LocationDescription string `json:"location_description"`
	Block               string `json:"block"`
	Latitude            any    `json:"latitude"`
	Longitude           any    `json:"longitude"`
	XCoordinate         any    `json:"x_coordinate"`
	YCoordinate         any    `json:"y_coordinate"`
	FBICode             string `json:"fbi_code"`
}

// ChicagoNormalizer maps Chicago crime rows to the canonical incident shape.
type ChicagoNormalizer struct{}

func init() {
	Register(&ChicagoNormalizer{})
}

func (n *ChicagoNormalizer) Slug() string { return ChicagoCityCode }

func (n *ChicagoNormalizer) Normalize(row map[string]any) (*Incident, error) {
	var r chicagoRow
	buf, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode raw row: %w", err)
	}
	if err := json.Unmarshal(buf, &r); err != nil {
		return nil, fmt.Errorf("decode raw row: %w", err)
	}

	occurredAt := ParseTime(r.Date)
	if occurredAt == nil {
		return nil, &MissingFieldError{Field: "date"}
	}

	rowUID := r.ID
	if rowUID == "" {
		// Some exports carry the Socrata system id instead.
		rowUID = SafeString(row[":id"])
	}
	if rowUID == "" {
		return nil, &MissingFieldError{Field: "id"}
	}

	primaryType := r.PrimaryType
	if primaryType == "" {
		primaryType = "Unknown"
	}

	return &Incident{
		City:       ChicagoCityCode,
		SourceSlug: ChicagoSourceSlug,
		RowUID:     rowUID,

		OccurredAt:    *occurredAt,
		ReportedAt:    occurredAt,
		LastUpdatedAt: ParseTime(r.UpdatedOn),

		PrimaryType:    primaryType,
		Description:    r.Description,
		IUCR:           r.IUCR,
		ExternalCaseID: r.CaseNumber,

		Arrest:   ParseBool(r.Arrest),
		Domestic: ParseBool(r.Domestic),

		District:            SafeString(r.District),
		Beat:                SafeString(r.Beat),
		Ward:                SafeString(r.Ward),
		CommunityArea:       SafeString(r.CommunityArea),
		LocationDescription: r.LocationDescription,
		StreetBlock:         r.Block,

		Latitude:    ParseFloat(r.Latitude),
		Longitude:   ParseFloat(r.Longitude),
		XCoordinate: ParseFloat(r.XCoordinate),
		YCoordinate: ParseFloat(r.YCoordinate),

		RawRecord:  row,
		ReceiptURL: chicagoReceiptURL(rowUID),
		Metadata: map[string]any{
			"fbi_code":            r.FBICode,
			"community_area_name": row["community_area_name"],
			"location":            row["location"],
		},
	}, nil
}

// chicagoReceiptURL reconstructs the portal query proving how this row was
// fetched.
func chicagoReceiptURL(rowUID string) string {
	return fmt.Sprintf("%s/resource/%s.json?$where=id='%s'", ChicagoAPIBase, ChicagoDatasetID, rowUID)
}
